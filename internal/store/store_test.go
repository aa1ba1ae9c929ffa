package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "beacon.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserFindOrCreateIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u1, err := s.Users.FindOrCreate(ctx, "user:42")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	u2, err := s.Users.FindOrCreate(ctx, "user:42")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if u1.ID != u2.ID || !u1.CreatedAt.Equal(u2.CreatedAt) {
		t.Errorf("rows differ: %+v vs %+v", u1, u2)
	}
}

func TestSessionFindOrCreateIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Users.FindOrCreate(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	s1, created1, err := s.Sessions.FindOrCreate(ctx, "u1", "telegram", "chat-7", "orin")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if !created1 {
		t.Error("first call should create")
	}
	s2, created2, err := s.Sessions.FindOrCreate(ctx, "u1", "telegram", "chat-7", "orin")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if created2 {
		t.Error("second call should not create")
	}
	if s1.ID != s2.ID {
		t.Errorf("session rows differ: %s vs %s", s1.ID, s2.ID)
	}

	// Different locus gets a different row.
	s3, _, err := s.Sessions.FindOrCreate(ctx, "u1", "telegram", "chat-8", "orin")
	if err != nil {
		t.Fatal(err)
	}
	if s3.ID == s1.ID {
		t.Error("distinct locus reused session row")
	}
}

func TestMessageOrderingAndThreads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Users.FindOrCreate(ctx, "u1")
	sess, _, _ := s.Sessions.FindOrCreate(ctx, "u1", "test", "c1", "")

	for _, m := range []struct{ role, content, thread string }{
		{"user", "a", ""},
		{"assistant", "b", ""},
		{"user", "c", "t1"},
		{"assistant", "d", "t1"},
	} {
		if _, err := s.Messages.Add(ctx, sess.ID, m.role, m.content, m.thread); err != nil {
			t.Fatalf("add %q: %v", m.content, err)
		}
	}

	all, err := s.Messages.Recent(ctx, sess.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d messages", len(all))
	}
	for i := 1; i < len(all); i++ {
		if !all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Errorf("timestamps not strictly increasing at %d", i)
		}
	}

	root, err := s.Messages.RecentInThread(ctx, sess.ID, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(root) != 2 || root[0].Content != "a" || root[1].Content != "b" {
		t.Errorf("root thread = %v", contents(root))
	}

	thread := "t1"
	threaded, err := s.Messages.RecentInThread(ctx, sess.ID, &thread, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(threaded) != 2 || threaded[0].Content != "c" {
		t.Errorf("thread t1 = %v", contents(threaded))
	}
}

func TestMessageRecentLimitIsChronological(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Users.FindOrCreate(ctx, "u1")
	sess, _, _ := s.Sessions.FindOrCreate(ctx, "u1", "test", "c1", "")

	for _, c := range []string{"1", "2", "3", "4", "5"} {
		s.Messages.Add(ctx, sess.ID, "user", c, "")
	}
	got, err := s.Messages.Recent(ctx, sess.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"3", "4", "5"}; !equalStrings(contents(got), want) {
		t.Errorf("recent(3) = %v, want %v", contents(got), want)
	}
}

func TestCompactTx(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Users.FindOrCreate(ctx, "u1")
	sess, _, _ := s.Sessions.FindOrCreate(ctx, "u1", "test", "c1", "")

	var ids []string
	for _, c := range []string{"a", "b", "c", "d", "e", "f"} {
		m, _ := s.Messages.Add(ctx, sess.ID, "user", c, "")
		ids = append(ids, m.ID)
	}

	// Cut at "d": removes a, b, c and inserts the summary in their place.
	removed, err := s.Messages.CompactTx(ctx, sess.ID, ids[3], "[Conversation summary] abc")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	after, _ := s.Messages.Recent(ctx, sess.ID, 10)
	if want := []string{"[Conversation summary] abc", "d", "e", "f"}; !equalStrings(contents(after), want) {
		t.Errorf("after compact = %v, want %v", contents(after), want)
	}
	if after[0].Role != "system" {
		t.Errorf("summary role = %q", after[0].Role)
	}
}

func TestInsertSummarySortsFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Users.FindOrCreate(ctx, "u1")
	sess, _, _ := s.Sessions.FindOrCreate(ctx, "u1", "test", "c1", "")
	s.Messages.Add(ctx, sess.ID, "user", "hello", "")

	if _, err := s.Messages.InsertSummary(ctx, sess.ID, "summary"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Messages.Recent(ctx, sess.ID, 10)
	if got[0].Content != "summary" || got[0].Role != "system" {
		t.Errorf("first message = %+v", got[0])
	}
}

func TestMemoryContentHashDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Users.FindOrCreate(ctx, "u1")

	m := &Memory{UserID: "u1", Content: "User loves coffee"}
	if err := s.Memories.Add(ctx, m); err != nil {
		t.Fatal(err)
	}

	exists, err := s.Memories.ExistsByContentHash(ctx, "u1", HashContent("User loves coffee"))
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("hash lookup missed stored memory")
	}

	// Normalization: case and whitespace do not defeat dedup.
	exists, _ = s.Memories.ExistsByContentHash(ctx, "u1", HashContent("  user   LOVES coffee "))
	if !exists {
		t.Error("normalized hash lookup missed stored memory")
	}

	// Other users are not affected.
	exists, _ = s.Memories.ExistsByContentHash(ctx, "u2", HashContent("User loves coffee"))
	if exists {
		t.Error("hash leaked across users")
	}
}

func TestMemoryGetContextOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Users.FindOrCreate(ctx, "u1")

	plain := &Memory{UserID: "u1", Content: "plain fact"}
	pinned := &Memory{UserID: "u1", Content: "pinned fact", Pinned: true}
	hot := &Memory{UserID: "u1", Content: "hot fact"}
	for _, m := range []*Memory{plain, pinned, hot} {
		if err := s.Memories.Add(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	s.Memories.Touch(ctx, []string{hot.ID, hot.ID, hot.ID})

	got, err := s.Memories.GetContext(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d memories", len(got))
	}
	if got[0].Content != "pinned fact" {
		t.Errorf("pinned not first: %q", got[0].Content)
	}
	if got[1].Content != "hot fact" {
		t.Errorf("access_count ordering wrong: %q", got[1].Content)
	}
}

func TestMemorySoftDeleteHidesRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Users.FindOrCreate(ctx, "u1")
	m := &Memory{UserID: "u1", Content: "temp"}
	s.Memories.Add(ctx, m)

	if err := s.Memories.SoftDelete(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	exists, _ := s.Memories.ExistsByContentHash(ctx, "u1", m.ContentHash)
	if exists {
		t.Error("soft-deleted memory still visible to hash lookup")
	}
	got, _ := s.Memories.GetContext(ctx, "u1", 10)
	if len(got) != 0 {
		t.Errorf("soft-deleted memory returned in context")
	}
}

func TestMemorySyncMarkers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Users.FindOrCreate(ctx, "u1")
	m := &Memory{UserID: "u1", Content: "sync me"}
	s.Memories.Add(ctx, m)

	unsynced, err := s.Memories.Unsynced(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(unsynced) != 1 {
		t.Fatalf("unsynced = %d, want 1", len(unsynced))
	}
	if err := s.Memories.MarkSynced(ctx, []string{m.ID}); err != nil {
		t.Fatal(err)
	}
	unsynced, _ = s.Memories.Unsynced(ctx, 10)
	if len(unsynced) != 0 {
		t.Errorf("unsynced after mark = %d", len(unsynced))
	}
}

func TestSkillCommandNameDisambiguation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &Skill{Name: "Weather", UserInvocable: true}
	if err := s.Skills.InstallWithPriority(ctx, first, PriorityStandard, ""); err != nil {
		t.Fatal(err)
	}
	if first.CommandName != "weather" {
		t.Errorf("first command = %q", first.CommandName)
	}

	second := &Skill{Name: "Weather", Source: SkillSourceRemote, UserInvocable: true}
	if err := s.Skills.InstallWithPriority(ctx, second, PriorityStandard, ""); err != nil {
		t.Fatal(err)
	}
	if second.CommandName != "weather2" {
		t.Errorf("second command = %q, want weather2", second.CommandName)
	}

	got, err := s.Skills.GetByCommandName(ctx, "weather2", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != second.ID {
		t.Error("command resolution picked wrong skill")
	}
}

func TestSkillUpsertBundledPreservesToggles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sk := &Skill{Name: "notes", Description: "v1", Body: "old body"}
	if err := s.Skills.UpsertBundled(ctx, sk, PriorityStandard); err != nil {
		t.Fatal(err)
	}
	// User disables it.
	if err := s.Skills.SetEnabled(ctx, sk.ID, false); err != nil {
		t.Fatal(err)
	}

	// New binary ships updated content.
	updated := &Skill{Name: "notes", Description: "v2", Body: "new body"}
	if err := s.Skills.UpsertBundled(ctx, updated, PriorityElevated); err != nil {
		t.Fatal(err)
	}
	if updated.ID != sk.ID {
		t.Error("upsert created a new row")
	}
	if updated.Enabled {
		t.Error("user disable toggle was lost")
	}
	if updated.Priority != PriorityStandard {
		t.Errorf("priority overwritten: %q", updated.Priority)
	}

	all, _ := s.Skills.List(ctx)
	if len(all) != 1 || all[0].Body != "new body" || all[0].Description != "v2" {
		t.Errorf("content not refreshed: %+v", all[0])
	}
}

func TestPairingLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	allowed, _ := s.Pairing.IsAllowed(ctx, "user:42", "telegram")
	if allowed {
		t.Fatal("unknown sender allowed")
	}

	wrote, err := s.Pairing.SetPendingCode(ctx, "user:42", "telegram", "ABC234")
	if err != nil || !wrote {
		t.Fatalf("set pending: wrote=%v err=%v", wrote, err)
	}

	// Wrong code does not approve.
	ok, _ := s.Pairing.Verify(ctx, "user:42", "telegram", "WRONG9")
	if ok {
		t.Error("wrong code verified")
	}

	// A refreshed code replaces the old one.
	s.Pairing.SetPendingCode(ctx, "user:42", "telegram", "XYZ789")
	if ok, _ := s.Pairing.Verify(ctx, "user:42", "telegram", "ABC234"); ok {
		t.Error("stale code verified after refresh")
	}
	ok, err = s.Pairing.Verify(ctx, "user:42", "telegram", "XYZ789")
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}

	allowed, _ = s.Pairing.IsAllowed(ctx, "user:42", "telegram")
	if !allowed {
		t.Error("verified sender not allowed")
	}

	// Codes are single-use.
	if ok, _ := s.Pairing.Verify(ctx, "user:42", "telegram", "XYZ789"); ok {
		t.Error("code reusable after approval")
	}

	// Approved senders get no new code.
	wrote, _ = s.Pairing.SetPendingCode(ctx, "user:42", "telegram", "NEW111")
	if wrote {
		t.Error("pending code written for approved sender")
	}
}

func TestGroupConfigRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mention := true
	ack := "🔥"
	g := &GroupConfig{ChatID: "-100123", Title: "devs", RequireMention: &mention, AckEmoji: &ack, Enabled: true}
	if err := s.Groups.Put(ctx, g); err != nil {
		t.Fatal(err)
	}

	got, err := s.Groups.Get(ctx, "-100123")
	if err != nil {
		t.Fatal(err)
	}
	if got.RequireMention == nil || !*got.RequireMention {
		t.Error("require_mention lost")
	}
	if got.AckEmoji == nil || *got.AckEmoji != "🔥" {
		t.Error("ack emoji lost")
	}
	if got.ReactionLevel != nil {
		t.Error("unset override should stay nil")
	}

	if err := s.Groups.Delete(ctx, "-100123"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Groups.Get(ctx, "-100123"); err != ErrNotFound {
		t.Errorf("after delete err = %v", err)
	}
}

func TestUserDeleteCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Users.FindOrCreate(ctx, "u1")
	sess, _, _ := s.Sessions.FindOrCreate(ctx, "u1", "test", "c1", "")
	s.Messages.Add(ctx, sess.ID, "user", "hi", "")
	s.Memories.Add(ctx, &Memory{UserID: "u1", Content: "fact"})

	if err := s.Users.Delete(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sessions.Get(ctx, sess.ID); err != ErrNotFound {
		t.Errorf("session survived cascade: %v", err)
	}
	n, _ := s.Messages.Count(ctx, sess.ID)
	if n != 0 {
		t.Errorf("messages survived cascade: %d", n)
	}
}

func contents(msgs []*Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
