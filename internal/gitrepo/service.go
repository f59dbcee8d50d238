package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"preview/api/internal/preview"
	"preview/api/internal/store"
)

var (
	ErrInvalidPage  = errors.New("invalid page identifier")
	ErrPageNotFound = errors.New("page has no published content")
)

var pagePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Service publishes preview overrides into a git content repository, one
// JSON file per page under pages/.
type Service struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Service {
	return &Service{dir: dir}
}

// Publish writes changes as the page's content file and commits it on main.
// The repository is created on first use.
func (s *Service) Publish(page string, changes preview.ChangeSet, author, message string) (store.CommitInfo, error) {
	file, err := pageFile(page)
	if err != nil {
		return store.CommitInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return store.CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(changes, "", "  ")
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("marshal page content: %w", err)
	}
	target := filepath.Join(s.dir, filepath.FromSlash(file))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return store.CommitInfo{}, fmt.Errorf("create pages dir: %w", err)
	}
	if err := os.WriteFile(target, append(payload, '\n'), 0o644); err != nil {
		return store.CommitInfo{}, fmt.Errorf("write %s: %w", file, err)
	}
	if _, err := worktree.Add(file); err != nil {
		return store.CommitInfo{}, fmt.Errorf("git add %s: %w", file, err)
	}

	if message == "" {
		message = fmt.Sprintf("Publish preview for %s", page)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("commit page content: %w", err)
	}
	if err := s.pointMainAt(repo, hash); err != nil {
		return store.CommitInfo{}, err
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// PageContent returns the page's overrides at the head of main.
func (s *Service) PageContent(page string) (preview.ChangeSet, store.CommitInfo, error) {
	file, err := pageFile(page)
	if err != nil {
		return nil, store.CommitInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	commitObj, err := s.head()
	if err != nil {
		return nil, store.CommitInfo{}, err
	}
	blob, err := commitObj.File(file)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, store.CommitInfo{}, ErrPageNotFound
	}
	if err != nil {
		return nil, store.CommitInfo{}, fmt.Errorf("load %s: %w", file, err)
	}
	reader, err := blob.Reader()
	if err != nil {
		return nil, store.CommitInfo{}, fmt.Errorf("open %s: %w", file, err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, store.CommitInfo{}, fmt.Errorf("read %s: %w", file, err)
	}
	var changes preview.ChangeSet
	if err := json.Unmarshal(raw, &changes); err != nil {
		return nil, store.CommitInfo{}, fmt.Errorf("decode %s: %w", file, err)
	}
	return changes, toCommitInfo(commitObj), nil
}

// History lists commits touching the page, newest first.
func (s *Service) History(page string, limit int) ([]store.CommitInfo, error) {
	file, err := pageFile(page)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.head()
	if errors.Is(err, ErrPageNotFound) {
		return []store.CommitInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash, FileName: &file})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		if limit > 0 && len(items) >= limit {
			return errStopIteration
		}
		items = append(items, toCommitInfo(commitObj))
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

var errStopIteration = errors.New("stop iteration")

func (s *Service) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(s.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

// head returns the commit at main, or ErrPageNotFound when nothing has been
// published yet.
func (s *Service) head() (*object.Commit, error) {
	repo, err := git.PlainOpen(s.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

// pointMainAt keeps HEAD on main; a fresh repository's first commit lands on
// go-git's default branch.
func (s *Service) pointMainAt(repo *git.Repository, hash plumbing.Hash) error {
	mainRef := plumbing.NewBranchReferenceName("main")
	if err := repo.Storer.SetReference(plumbing.NewHashReference(mainRef, hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, mainRef)); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

func pageFile(page string) (string, error) {
	if !pagePattern.MatchString(page) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPage, page)
	}
	return path.Join("pages", page+".json"), nil
}

func signature(author string) *object.Signature {
	if author == "" {
		author = "Preview Editor"
	}
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@preview.local", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "editor"
	}
	return string(out)
}
