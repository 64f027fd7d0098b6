package users

import (
	"context"
	"strings"
	"sync"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/jobs"
)

type memRepo struct {
	mu    sync.Mutex
	users map[string]*User
	order []string
}

func newMemRepo(seed ...User) *memRepo {
	repo := &memRepo{users: make(map[string]*User)}
	for _, u := range seed {
		u := u
		repo.users[u.ID] = &u
		repo.order = append(repo.order, u.ID)
	}
	return repo
}

func (m *memRepo) List(_ context.Context, f ListFilter) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, id := range m.order {
		u, ok := m.users[id]
		if !ok {
			continue
		}
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(u.FullName+" "+u.Email), strings.ToLower(f.Query)) {
			continue
		}
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *memRepo) Get(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memRepo) Create(_ context.Context, nu NewUser) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == nu.Email {
			return nil, shared.ErrDuplicate
		}
	}
	u := &User{ID: nu.ID, Email: nu.Email, FullName: nu.FullName, Role: nu.Role, Subject: nu.Subject, Grade: nu.Grade, IsActive: true}
	m.users[u.ID] = u
	m.order = append(m.order, u.ID)
	copied := *u
	return &copied, nil
}

func (m *memRepo) Update(_ context.Context, id string, in UpdateInput, role access.Role) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	u.FullName, u.Role, u.Subject, u.Grade, u.IsActive = in.FullName, role, in.Subject, in.Grade, in.IsActive
	copied := *u
	return &copied, nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memRepo) ExistingEmails(_ context.Context, emails []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for _, e := range emails {
		for _, u := range m.users {
			if strings.EqualFold(u.Email, e) {
				out[strings.ToLower(e)] = true
			}
		}
	}
	return out, nil
}

func (m *memRepo) CountByRole(_ context.Context) (map[access.Role]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[access.Role]int)
	for _, u := range m.users {
		if u.IsActive {
			out[u.Role]++
		}
	}
	return out, nil
}

type fakeInviter struct{}

func (fakeInviter) Issue(userID string) (string, error) { return "tok-" + userID, nil }

type mailSpy struct {
	mu   sync.Mutex
	sent []jobs.SendEmailPayload
}

func (m *mailSpy) EnqueueSendEmail(_ context.Context, p jobs.SendEmailPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, p)
	return nil
}

type auditSpy struct {
	mu      sync.Mutex
	entries []shared.AuditEntry
}

func (a *auditSpy) Record(_ context.Context, e shared.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *auditSpy) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

const superID = "00000000-0000-0000-0000-000000000001"

func newTestService(seed ...User) (*Service, *memRepo, *mailSpy, *auditSpy) {
	repo := newMemRepo(seed...)
	mail := &mailSpy{}
	audit := &auditSpy{}
	svc := NewService(ServiceConfig{
		Repo:    repo,
		Inviter: fakeInviter{},
		Mail:    mail,
		Audit:   audit,
		BaseURL: "https://bloom.example.com/",
	})
	return svc, repo, mail, audit
}

func superUser() User {
	return User{ID: superID, Email: "super@example.com", FullName: "Sue Per", Role: access.RoleSuperUser, IsActive: true, HasPassword: true}
}
