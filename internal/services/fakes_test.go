package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-verify-bot/internal/domain"
	"github.com/tbourn/go-verify-bot/internal/repo"
)

// ---------- store ----------

// newSvcDB opens a file-backed WAL database so concurrent tests exercise
// real connection pooling.
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "verifier.db"), repo.WithSilentLog())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

var errDiskFull = errors.New("disk full")

// failingRepo wraps the real store and fails selected writes.
type failingRepo struct {
	repo.Store
	failUpdate bool
	failDelete bool
	failScan   bool
}

func (f *failingRepo) UpdateApplicant(ctx context.Context, db *gorm.DB, id string, a *domain.Applicant) error {
	if f.failUpdate {
		return errDiskFull
	}
	return f.Store.UpdateApplicant(ctx, db, id, a)
}

func (f *failingRepo) DeleteApplicant(ctx context.Context, db *gorm.DB, id string) error {
	if f.failDelete {
		return errDiskFull
	}
	return f.Store.DeleteApplicant(ctx, db, id)
}

func (f *failingRepo) ScanInProgress(ctx context.Context, db *gorm.DB) ([]domain.Applicant, error) {
	if f.failScan {
		return nil, errDiskFull
	}
	return f.Store.ScanInProgress(ctx, db)
}

// ---------- chat ----------

type promptEdit struct {
	Ref     string
	Content PromptContent
}

type sentNotice struct {
	Channel string
	Notice  Notice
}

type fakeChat struct {
	mu sync.Mutex

	channels  []string
	prompts   []PromptContent
	edits     []promptEdit
	notices   []sentNotice
	roleAdds  map[string][]string
	roleDrops map[string][]string
	nicknames map[string]string
	removed   []string

	failChannel  error
	failPrompt   error
	failEdit     error
	failRoles    error
	failNickname error

	// honorCtx makes prompt edits and notices fail on a done context, the
	// way a real HTTP client would.
	honorCtx bool
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		roleAdds:  map[string][]string{},
		roleDrops: map[string][]string{},
		nicknames: map[string]string{},
	}
}

func (f *fakeChat) CreatePrivateChannel(_ context.Context, applicantID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChannel != nil {
		return "", f.failChannel
	}
	ref := "chan-" + applicantID
	f.channels = append(f.channels, ref)
	return ref, nil
}

func (f *fakeChat) CreateReviewPrompt(_ context.Context, c PromptContent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPrompt != nil {
		return "", f.failPrompt
	}
	f.prompts = append(f.prompts, c)
	return fmt.Sprintf("prompt-%d", len(f.prompts)), nil
}

func (f *fakeChat) EditPrompt(ctx context.Context, ref string, c PromptContent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEdit != nil {
		return f.failEdit
	}
	if f.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	f.edits = append(f.edits, promptEdit{Ref: ref, Content: c})
	return nil
}

func (f *fakeChat) Send(ctx context.Context, channel string, n Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	f.notices = append(f.notices, sentNotice{Channel: channel, Notice: n})
	return nil
}

func (f *fakeChat) MutateMemberRoles(_ context.Context, id string, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRoles != nil {
		return f.failRoles
	}
	f.roleAdds[id] = append(f.roleAdds[id], add...)
	f.roleDrops[id] = append(f.roleDrops[id], remove...)
	return nil
}

func (f *fakeChat) SetMemberNickname(_ context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNickname != nil {
		return f.failNickname
	}
	f.nicknames[id] = name
	return nil
}

func (f *fakeChat) RemoveMember(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeChat) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

func (f *fakeChat) lastEdit() promptEdit {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return promptEdit{}
	}
	return f.edits[len(f.edits)-1]
}

func (f *fakeChat) noticeKinds() []NoticeKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]NoticeKind, 0, len(f.notices))
	for _, n := range f.notices {
		out = append(out, n.Notice.Kind)
	}
	return out
}

// ---------- mail ----------

type fakeMail struct {
	mu sync.Mutex

	sent    []string // subjects
	replies map[string]*Reply
	acked   []uint32
	closed  bool

	sendErr    error
	ensureErr  error
	findErr    map[string]error
	ensureCall int
}

func newFakeMail() *fakeMail {
	return &fakeMail{replies: map[string]*Reply{}, findErr: map[string]error{}}
}

func (f *fakeMail) SendChallenge(_ context.Context, to, subject string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, subject)
	return nil
}

func (f *fakeMail) FindReply(_ context.Context, subject string) (*Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.findErr[subject]; err != nil {
		return nil, err
	}
	return f.replies[subject], nil
}

func (f *fakeMail) Acknowledge(_ context.Context, r *Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, r.UID)
	return nil
}

func (f *fakeMail) EnsureConnected(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCall++
	return f.ensureErr
}

func (f *fakeMail) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeMail) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// ---------- audit ----------

type fakeAudit struct {
	mu      sync.Mutex
	changes []domain.StatusChange

	// onPublish runs after each recorded change.
	onPublish func()
}

func (f *fakeAudit) Publish(_ context.Context, c domain.StatusChange) error {
	f.mu.Lock()
	f.changes = append(f.changes, c)
	hook := f.onPublish
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeAudit) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changes)
}

// ---------- service fixture ----------

var testEmailPattern = regexp.MustCompile(`^[a-zA-Z]+[0-9]+@psu\.edu$`)

type fixture struct {
	db    *gorm.DB
	store *failingRepo
	chat  *fakeChat
	mail  *fakeMail
	audit *fakeAudit
	svc   *VerificationService
	now   time.Time
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		db:    newSvcDB(t),
		store: &failingRepo{},
		chat:  newFakeChat(),
		mail:  newFakeMail(),
		audit: &fakeAudit{},
		now:   time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	opts := Options{
		EmailPattern:     testEmailPattern,
		ChallengeSubject: "Discord Verification Email",
		VerifiedRole:     "verified",
		NewMemberRole:    "new-member",
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.svc = NewVerificationService(f.db, f.store, f.chat, f.mail, opts)
	f.svc.Audit = f.audit
	f.svc.Now = func() time.Time { return f.now }
	return f
}

func (f *fixture) register(t *testing.T, id, email string) *domain.Applicant {
	t.Helper()
	a, err := f.svc.Register(context.Background(), RegisterRequest{
		ApplicantID:  id,
		FirstName:    "ada",
		LastName:     "lovelace",
		Email:        email,
		ConfirmEmail: email,
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return a
}

func (f *fixture) history(t *testing.T, id string) []domain.StatusChange {
	t.Helper()
	rows, err := repo.ListStatusChanges(context.Background(), f.db, id)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	return rows
}
