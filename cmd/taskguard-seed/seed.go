package main

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/orgs"
	"github.com/platinummonkey/taskguard/pkg/tasks"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// Fixtures is the seed document.
type Fixtures struct {
	Password      string        `yaml:"password"`
	Organizations []OrgFixture  `yaml:"organizations"`
	Users         []UserFixture `yaml:"users"`
	Tasks         []TaskFixture `yaml:"tasks"`
}

// OrgFixture describes one organization. Parent names a root fixture.
type OrgFixture struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Parent      string `yaml:"parent"`
}

// UserFixture describes one user. Password overrides the document default.
type UserFixture struct {
	Email        string `yaml:"email"`
	Password     string `yaml:"password"`
	FirstName    string `yaml:"firstName"`
	LastName     string `yaml:"lastName"`
	Role         string `yaml:"role"`
	Organization string `yaml:"organization"`
}

// TaskFixture describes one task. CreatedBy is a user email.
type TaskFixture struct {
	Title        string `yaml:"title"`
	Description  string `yaml:"description"`
	Status       string `yaml:"status"`
	Priority     string `yaml:"priority"`
	Category     string `yaml:"category"`
	CreatedBy    string `yaml:"createdBy"`
	Organization string `yaml:"organization"`
	DueInDays    int    `yaml:"dueInDays"`
}

// ParseFixtures decodes a fixture document. Unknown keys are rejected.
func ParseFixtures(data []byte) (*Fixtures, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var fx Fixtures
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	if err := fx.validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// LoadFixtures reads path, or the embedded defaults when path is empty.
func LoadFixtures(path string) (*Fixtures, error) {
	if path == "" {
		return ParseFixtures(defaultFixtures)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

func (fx *Fixtures) validate() error {
	roots := make(map[string]bool)
	names := make(map[string]bool)
	for _, o := range fx.Organizations {
		if o.Name == "" {
			return fmt.Errorf("organization name is required")
		}
		if names[o.Name] {
			return fmt.Errorf("duplicate organization %q", o.Name)
		}
		names[o.Name] = true
		if o.Parent == "" {
			roots[o.Name] = true
		}
	}
	for _, o := range fx.Organizations {
		if o.Parent != "" && !roots[o.Parent] {
			return fmt.Errorf("organization %q: parent %q is not a root organization", o.Name, o.Parent)
		}
	}

	emails := make(map[string]bool)
	for _, u := range fx.Users {
		if u.Email == "" {
			return fmt.Errorf("user email is required")
		}
		if _, err := auth.ParseRole(u.Role); err != nil {
			return fmt.Errorf("user %s: %w", u.Email, err)
		}
		if u.Organization != "" && !names[u.Organization] {
			return fmt.Errorf("user %s: unknown organization %q", u.Email, u.Organization)
		}
		if u.Password == "" && fx.Password == "" {
			return fmt.Errorf("user %s: no password", u.Email)
		}
		emails[u.Email] = true
	}

	for _, t := range fx.Tasks {
		if !names[t.Organization] {
			return fmt.Errorf("task %q: unknown organization %q", t.Title, t.Organization)
		}
		if !emails[t.CreatedBy] {
			return fmt.Errorf("task %q: unknown creator %q", t.Title, t.CreatedBy)
		}
		if t.Status != "" {
			if err := tasks.ValidStatus(t.Status); err != nil {
				return fmt.Errorf("task %q: status %w", t.Title, err)
			}
		}
	}
	return nil
}

// OrgStore is the organization persistence the seeder needs.
type OrgStore interface {
	List(ctx context.Context) ([]*orgs.Organization, error)
	Create(ctx context.Context, org *orgs.Organization) error
}

// TaskStore is the task persistence the seeder needs.
type TaskStore interface {
	Find(ctx context.Context, q tasks.Query) ([]*tasks.Task, int, error)
	Insert(ctx context.Context, t *tasks.Task) error
}

// Hasher turns a plaintext password into a stored hash.
type Hasher func(password string) (string, error)

// Result counts what one Apply created.
type Result struct {
	Organizations int
	Users         int
	Tasks         int
	SeededUsers   []*auth.User
}

// Seeder applies fixtures idempotently.
type Seeder struct {
	orgs  OrgStore
	users auth.UserStore
	tasks TaskStore
	hash  Hasher
	now   func() time.Time
	log   *logrus.Logger
}

// NewSeeder creates a Seeder. A nil hasher means bcrypt.
func NewSeeder(orgStore OrgStore, users auth.UserStore, taskStore TaskStore, hash Hasher, log *logrus.Logger) *Seeder {
	if hash == nil {
		hash = auth.HashPassword
	}
	if log == nil {
		log = logrus.New()
	}
	return &Seeder{
		orgs:  orgStore,
		users: users,
		tasks: taskStore,
		hash:  hash,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log,
	}
}

// Apply creates whatever in fx is missing.
func (s *Seeder) Apply(ctx context.Context, fx *Fixtures) (*Result, error) {
	result := &Result{}

	if n, err := s.users.Count(ctx); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	} else if n > 0 {
		s.log.WithField("users", n).Info("users exist, adding only missing fixtures")
	}

	orgIDs, err := s.applyOrganizations(ctx, fx.Organizations, result)
	if err != nil {
		return nil, err
	}
	userIDs, err := s.applyUsers(ctx, fx, orgIDs, result)
	if err != nil {
		return nil, err
	}
	if err := s.applyTasks(ctx, fx.Tasks, orgIDs, userIDs, result); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"organizations": result.Organizations,
		"users":         result.Users,
		"tasks":         result.Tasks,
	}).Info("seed applied")
	return result, nil
}

func (s *Seeder) applyOrganizations(ctx context.Context, fixtures []OrgFixture, result *Result) (map[string]*orgs.Organization, error) {
	existing, err := s.orgs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	byName := make(map[string]*orgs.Organization, len(existing))
	for _, o := range existing {
		byName[o.Name] = o
	}

	// Roots go first so children can resolve their parent.
	ordered := make([]OrgFixture, 0, len(fixtures))
	for _, f := range fixtures {
		if f.Parent == "" {
			ordered = append(ordered, f)
		}
	}
	for _, f := range fixtures {
		if f.Parent != "" {
			ordered = append(ordered, f)
		}
	}

	for _, f := range ordered {
		if _, ok := byName[f.Name]; ok {
			s.log.WithField("organization", f.Name).Debug("organization exists")
			continue
		}

		var org *orgs.Organization
		if f.Parent == "" {
			org, err = orgs.NewRoot(f.Name, f.Description)
		} else {
			org, err = orgs.NewChild(byName[f.Parent], f.Name, f.Description)
		}
		if err != nil {
			return nil, fmt.Errorf("organization %q: %w", f.Name, err)
		}
		if err := s.orgs.Create(ctx, org); err != nil {
			return nil, fmt.Errorf("failed to create organization %q: %w", f.Name, err)
		}
		byName[f.Name] = org
		result.Organizations++
		s.log.WithFields(logrus.Fields{"organization": org.Name, "id": org.ID}).Info("created organization")
	}
	return byName, nil
}

func (s *Seeder) applyUsers(ctx context.Context, fx *Fixtures, orgIDs map[string]*orgs.Organization, result *Result) (map[string]string, error) {
	ids := make(map[string]string, len(fx.Users))
	for _, f := range fx.Users {
		u, err := s.users.FindByEmail(ctx, f.Email)
		switch {
		case err == nil:
			s.log.WithField("email", f.Email).Debug("user exists")
		case errors.Is(err, apperrors.ErrNotFound):
			u, err = s.createUser(ctx, fx, f, orgIDs)
			if err != nil {
				return nil, err
			}
			result.Users++
		default:
			return nil, fmt.Errorf("failed to look up user %s: %w", f.Email, err)
		}
		ids[f.Email] = u.ID
		result.SeededUsers = append(result.SeededUsers, u)
	}
	return ids, nil
}

func (s *Seeder) createUser(ctx context.Context, fx *Fixtures, f UserFixture, orgIDs map[string]*orgs.Organization) (*auth.User, error) {
	role, err := auth.ParseRole(f.Role)
	if err != nil {
		return nil, err
	}
	password := f.Password
	if password == "" {
		password = fx.Password
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}

	u := &auth.User{
		Email:     f.Email,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Role:      role,
		IsActive:  true,
	}
	if org, ok := orgIDs[f.Organization]; ok {
		u.OrganizationID = org.ID
		u.Organization = org.Ref()
	}
	if err := s.users.Create(ctx, u, hash); err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", f.Email, err)
	}
	s.log.WithFields(logrus.Fields{"email": u.Email, "role": u.Role}).Info("created user")
	return u, nil
}

func (s *Seeder) applyTasks(ctx context.Context, fixtures []TaskFixture, orgIDs map[string]*orgs.Organization, userIDs map[string]string, result *Result) error {
	titles := make(map[string]map[string]bool)
	for _, f := range fixtures {
		orgID := orgIDs[f.Organization].ID

		seen, ok := titles[orgID]
		if !ok {
			existing, _, err := s.tasks.Find(ctx, tasks.Query{OrganizationIDs: []string{orgID}})
			if err != nil {
				return fmt.Errorf("failed to list tasks for %s: %w", f.Organization, err)
			}
			seen = make(map[string]bool, len(existing))
			for _, t := range existing {
				seen[t.Title] = true
			}
			titles[orgID] = seen
		}
		if seen[f.Title] {
			s.log.WithField("task", f.Title).Debug("task exists")
			continue
		}

		req := tasks.CreateRequest{
			Title:          f.Title,
			Category:       tasks.Category(f.Category),
			Priority:       tasks.Priority(f.Priority),
			OrganizationID: orgID,
		}
		if f.Description != "" {
			desc := f.Description
			req.Description = &desc
		}
		now := s.now()
		if f.DueInDays > 0 {
			due := now.AddDate(0, 0, f.DueInDays)
			req.DueDate = &due
		}
		if err := req.Validate(); err != nil {
			return fmt.Errorf("task %q: %w", f.Title, err)
		}

		task := req.Task(userIDs[f.CreatedBy], now)
		if f.Status != "" {
			task.Status = tasks.Status(f.Status)
		}
		if err := s.tasks.Insert(ctx, task); err != nil {
			return fmt.Errorf("failed to create task %q: %w", f.Title, err)
		}
		seen[f.Title] = true
		result.Tasks++
		s.log.WithFields(logrus.Fields{"task": task.Title, "organization": f.Organization}).Info("created task")
	}
	return nil
}
