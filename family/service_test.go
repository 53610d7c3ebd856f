package family

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateFamily(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo).WithIDGenerator(func() string { return "family-1" })

	created, err := svc.CreateFamily(context.Background(), "Rivera")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	if created.ID != "family-1" || created.Name != "Rivera" {
		t.Fatalf("unexpected family: %+v", created)
	}

	if _, err := svc.CreateFamily(context.Background(), ""); err == nil {
		t.Fatal("expected missing name to fail")
	}
}

func TestEnroll(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)

	if _, err := svc.Enroll(context.Background(), "family-1", "parent-a", RoleParent); err != nil {
		t.Fatalf("enroll parent: %v", err)
	}
	if _, err := svc.Enroll(context.Background(), "family-1", "child-1", RoleChild); err != nil {
		t.Fatalf("enroll child: %v", err)
	}

	if _, err := svc.Enroll(context.Background(), "family-1", "parent-a", RoleParent); !errors.Is(err, ErrDuplicateMember) {
		t.Fatalf("expected ErrDuplicateMember, got %v", err)
	}
	if _, err := svc.Enroll(context.Background(), "family-1", "user-x", Role("grandparent")); err == nil {
		t.Fatal("expected invalid role to fail")
	}
	if _, err := svc.Enroll(context.Background(), "", "user-x", RoleParent); err == nil {
		t.Fatal("expected missing family id to fail")
	}
}

func TestMembers_ParentsBeforeChildren(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)

	for _, m := range []struct {
		userID string
		role   Role
	}{
		{"child-1", RoleChild},
		{"parent-a", RoleParent},
		{"parent-b", RoleParent},
	} {
		if _, err := svc.Enroll(context.Background(), "family-1", m.userID, m.role); err != nil {
			t.Fatalf("enroll %s: %v", m.userID, err)
		}
	}

	members, err := svc.Members(context.Background(), "family-1")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	want := []string{"parent-a", "parent-b", "child-1"}
	if len(members) != len(want) {
		t.Fatalf("expected %d members, got %d", len(want), len(members))
	}
	for i, m := range members {
		if m.UserID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], m.UserID)
		}
	}
}

func TestParticipants(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)

	svcEnroll := func(userID string, role Role) {
		t.Helper()
		if _, err := svc.Enroll(context.Background(), "family-1", userID, role); err != nil {
			t.Fatalf("enroll %s: %v", userID, err)
		}
	}
	svcEnroll("parent-a", RoleParent)
	svcEnroll("parent-b", RoleParent)
	svcEnroll("child-1", RoleChild)

	got, err := svc.Participants(context.Background(), "child-1")
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if got.ChildID != "child-1" {
		t.Fatalf("expected child-1, got %s", got.ChildID)
	}
	want := []string{"parent-a", "parent-b"}
	if len(got.Guardians) != len(want) {
		t.Fatalf("expected %d guardians, got %d", len(want), len(got.Guardians))
	}
	for i, g := range got.Guardians {
		if g != want[i] {
			t.Fatalf("guardian %d: expected %s, got %s", i, want[i], g)
		}
	}

	if _, err := svc.Participants(context.Background(), "stranger"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type fakeRepository struct {
	families map[string]Family
	members  []Member
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{families: map[string]Family{}}
}

func (f *fakeRepository) CreateFamily(_ context.Context, fam Family) (Family, error) {
	fam.CreatedAt = time.Now()
	f.families[fam.ID] = fam
	return fam, nil
}

func (f *fakeRepository) AddMember(_ context.Context, m Member) (Member, error) {
	for _, existing := range f.members {
		if existing.FamilyID == m.FamilyID && existing.UserID == m.UserID {
			return Member{}, ErrDuplicateMember
		}
	}
	m.JoinedAt = time.Now()
	f.members = append(f.members, m)
	return m, nil
}

func (f *fakeRepository) Members(_ context.Context, familyID string) ([]Member, error) {
	out := []Member{}
	for _, m := range f.members {
		if m.FamilyID == familyID && m.Role == RoleParent {
			out = append(out, m)
		}
	}
	for _, m := range f.members {
		if m.FamilyID == familyID && m.Role == RoleChild {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepository) GuardiansOf(_ context.Context, childUserID string) ([]string, error) {
	var familyID string
	for _, m := range f.members {
		if m.UserID == childUserID && m.Role == RoleChild {
			familyID = m.FamilyID
		}
	}
	if familyID == "" {
		return nil, ErrNotFound
	}
	guardians := []string{}
	for _, m := range f.members {
		if m.FamilyID == familyID && m.Role == RoleParent {
			guardians = append(guardians, m.UserID)
		}
	}
	return guardians, nil
}
