package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	artifacts "github.com/botpanel-dev/bot-panel-backend/internal/artifacts/domain"
	"github.com/botpanel-dev/bot-panel-backend/internal/logging"
	"github.com/botpanel-dev/bot-panel-backend/internal/metrics"
	"github.com/botpanel-dev/bot-panel-backend/internal/panel/domain"
	"github.com/botpanel-dev/bot-panel-backend/internal/sessiongate"
	"github.com/botpanel-dev/bot-panel-backend/internal/supervisor"
	"github.com/botpanel-dev/bot-panel-backend/internal/users"
	"golang.org/x/crypto/bcrypt"
)

const (
	// LogTailBytes bounds the log view.
	LogTailBytes = 64 << 10
	// RecentUploadsShown is the length of the dashboard's upload history.
	RecentUploadsShown = 5
)

type Directory interface {
	GetAccount(ctx context.Context, id int64) (*users.Account, error)
	CreateAccount(ctx context.Context, id int64, passwordHash string) error
	MarkVerified(ctx context.Context, id int64) error
}

// OTPSender delivers a login code over the chat channel.
type OTPSender interface {
	SendOTP(ctx context.Context, userID int64, code string) error
}

type Artifacts interface {
	Entries(ownerID int64) ([]artifacts.Artifact, error)
	Upload(ctx context.Context, ownerID int64, filename string, r io.Reader, declaredSize int64) (*artifacts.ArtifactRef, error)
	Read(ownerID int64, key string) ([]byte, error)
	Overwrite(ownerID int64, key string, content []byte) error
	Path(ownerID int64, key string) (string, error)
}

// UploadHistory reads the append-only upload log.
type UploadHistory interface {
	RecentUploads(ctx context.Context, ownerID int64, limit int) ([]artifacts.UploadRecord, error)
}

type Processes interface {
	Statuses(keys []string) map[string]supervisor.State
	Start(key, executable string) error
	Stop(ctx context.Context, key string) (supervisor.StopResult, error)
	LogTail(key string, max int64) ([]byte, error)
}

type Deps struct {
	Directory Directory
	Gate      sessiongate.Gate
	Sender    OTPSender
	Artifacts Artifacts
	Processes Processes
	// Uploads may be nil; the dashboard then shows no history.
	Uploads UploadHistory
	Metrics *metrics.Metrics
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// PanelService answers every panel request. It owns no state of its own;
// accounts, gate entries, files and processes live behind Deps.
type PanelService struct {
	dir     Directory
	gate    sessiongate.Gate
	sender  OTPSender
	store   Artifacts
	procs   Processes
	uploads UploadHistory
	metrics *metrics.Metrics
	cost    int
}

func NewPanelService(d Deps) *PanelService {
	cost := d.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &PanelService{
		dir:     d.Directory,
		gate:    d.Gate,
		sender:  d.Sender,
		store:   d.Artifacts,
		procs:   d.Processes,
		uploads: d.Uploads,
		metrics: d.Metrics,
		cost:    cost,
	}
}

// Login authenticates a chat user id and password. Unknown ids are enrolled
// and sent an OTP, as are known but unverified ids with the right password.
func (s *PanelService) Login(ctx context.Context, rawID, password string) (*domain.LoginResult, error) {
	userID, err := parseUserID(rawID)
	if err != nil || password == "" || len(password) > domain.MaxPasswordLength {
		s.metrics.RecordLogin("password", metrics.OutcomeRejected)
		return nil, domain.ErrInvalidLogin
	}
	logger := logging.NewLogger(ctx).With("user_id", userID)

	acct, err := s.dir.GetAccount(ctx, userID)
	if errors.Is(err, users.ErrAccountNotFound) {
		return s.enroll(ctx, userID, password)
	}
	if err != nil {
		s.metrics.RecordLogin("password", metrics.OutcomeError)
		return nil, fmt.Errorf("load account: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		s.metrics.RecordLogin("password", metrics.OutcomeRejected)
		logger.Warnf("Login", "reason=bad_password")
		return nil, domain.ErrInvalidCredentials
	}

	if !acct.Verified {
		if err := s.issueOTP(ctx, userID); err != nil {
			return nil, err
		}
		s.metrics.RecordLogin("password", metrics.OutcomeOK)
		logger.Infof("Login", "outcome=otp_reissued")
		return &domain.LoginResult{UserID: userID, Outcome: domain.LoginNeedsOTP}, nil
	}

	s.metrics.RecordLogin("password", metrics.OutcomeOK)
	logger.Infof("Login", "outcome=session")
	return &domain.LoginResult{UserID: userID, Outcome: domain.LoginSession}, nil
}

func (s *PanelService) enroll(ctx context.Context, userID int64, password string) (*domain.LoginResult, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if err := s.dir.CreateAccount(ctx, userID, string(hash)); err != nil {
		if errors.Is(err, users.ErrAccountExists) {
			// a concurrent login enrolled the same id first
			s.metrics.RecordLogin("password", metrics.OutcomeRejected)
			return nil, domain.ErrInvalidCredentials
		}
		s.metrics.RecordLogin("password", metrics.OutcomeError)
		return nil, fmt.Errorf("create account: %w", err)
	}

	if err := s.issueOTP(ctx, userID); err != nil {
		return nil, err
	}

	s.metrics.RecordLogin("password", metrics.OutcomeOK)
	logging.NewLogger(ctx).With("user_id", userID).Infof("Login", "outcome=enrolled")
	return &domain.LoginResult{UserID: userID, Outcome: domain.LoginNeedsOTP}, nil
}

// issueOTP stores a fresh code before sending it. A failed send is logged
// only; logging in again re-sends.
func (s *PanelService) issueOTP(ctx context.Context, userID int64) error {
	code, err := sessiongate.NewOTP()
	if err != nil {
		return err
	}
	if err := s.gate.SetOTP(ctx, userID, code); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	if s.sender == nil {
		return nil
	}
	if err := s.sender.SendOTP(ctx, userID, code); err != nil {
		logging.NewLogger(ctx).With("user_id", userID).Error("IssueOTP", err)
	}
	return nil
}

// ConfirmOTP verifies the account when code matches the pending OTP. The
// code is consumed on success.
func (s *PanelService) ConfirmOTP(ctx context.Context, userID int64, code string) error {
	logger := logging.NewLogger(ctx).With("user_id", userID)

	pending, ok, err := s.gate.PeekOTP(ctx, userID)
	if err != nil {
		s.metrics.RecordLogin("otp", metrics.OutcomeError)
		return fmt.Errorf("read otp: %w", err)
	}

	code = strings.TrimSpace(code)
	if !ok || code == "" || subtle.ConstantTimeCompare([]byte(pending), []byte(code)) != 1 {
		s.metrics.RecordLogin("otp", metrics.OutcomeRejected)
		logger.Warnf("ConfirmOTP", "reason=mismatch")
		return domain.ErrOTPMismatch
	}

	if err := s.dir.MarkVerified(ctx, userID); err != nil {
		s.metrics.RecordLogin("otp", metrics.OutcomeError)
		return fmt.Errorf("mark verified: %w", err)
	}
	if err := s.gate.ClearOTP(ctx, userID); err != nil {
		logger.Error("ConfirmOTP", err)
	}

	s.metrics.RecordLogin("otp", metrics.OutcomeOK)
	logger.Infof("ConfirmOTP", "outcome=verified")
	return nil
}

// RequireApproval returns ErrNotApproved until the user ran /approve.
func (s *PanelService) RequireApproval(ctx context.Context, userID int64) error {
	ok, err := s.gate.IsApproved(ctx, userID)
	if err != nil {
		return fmt.Errorf("read approval: %w", err)
	}
	if !ok {
		return domain.ErrNotApproved
	}
	return nil
}

func (s *PanelService) Dashboard(ctx context.Context, userID int64) (*domain.Dashboard, error) {
	if err := s.RequireApproval(ctx, userID); err != nil {
		return nil, err
	}

	entries, err := s.store.Entries(userID)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	statuses := s.procs.Statuses(keys)

	bots := make([]domain.BotView, 0, len(entries))
	for _, e := range entries {
		bots = append(bots, domain.BotView{
			Key:        e.Key,
			Name:       e.Name,
			Size:       e.Size,
			UploadedAt: e.UploadedAt,
			Status:     string(statuses[e.Key]),
		})
	}

	free := artifacts.MaxArtifacts - len(entries)
	if free < 0 {
		free = 0
	}
	return &domain.Dashboard{
		UserID:    userID,
		Bots:      bots,
		FreeSlots: free,
		Recent:    s.recentUploads(ctx, userID),
	}, nil
}

// recentUploads is best effort: a failing log never hides the bots.
func (s *PanelService) recentUploads(ctx context.Context, userID int64) []artifacts.UploadRecord {
	if s.uploads == nil {
		return nil
	}
	recent, err := s.uploads.RecentUploads(ctx, userID, RecentUploadsShown)
	if err != nil {
		logging.NewLogger(ctx).With("user_id", userID).Error("Dashboard", err)
		return nil
	}
	return recent
}

func (s *PanelService) Upload(ctx context.Context, userID int64, filename string, r io.Reader, declaredSize int64) (*artifacts.ArtifactRef, error) {
	if err := s.RequireApproval(ctx, userID); err != nil {
		return nil, err
	}

	ref, err := s.store.Upload(ctx, userID, filename, r, declaredSize)
	switch {
	case ref != nil:
		// the files are committed even when recording the upload failed
		if err != nil {
			logging.NewLogger(ctx).Error("Upload", err)
		}
		s.metrics.RecordUpload(metrics.OutcomeOK)
		return ref, nil
	case isRejection(err):
		s.metrics.RecordUpload(metrics.OutcomeRejected)
	default:
		s.metrics.RecordUpload(metrics.OutcomeError)
	}
	return nil, err
}

func isRejection(err error) bool {
	return errors.Is(err, artifacts.ErrCapacityExceeded) ||
		errors.Is(err, artifacts.ErrPayloadTooLarge) ||
		errors.Is(err, artifacts.ErrInvalidName) ||
		errors.Is(err, artifacts.ErrInvalidArchive) ||
		errors.Is(err, artifacts.ErrUnsafeArchive)
}

// StartBot is a no-op when the artifact already runs.
func (s *PanelService) StartBot(ctx context.Context, userID int64, key string) error {
	if err := s.authorize(ctx, userID, key); err != nil {
		return err
	}

	path, err := s.store.Path(userID, key)
	if err != nil {
		return err
	}
	if err := s.procs.Start(key, path); err != nil {
		logging.NewLogger(ctx).Error("StartBot", err)
		return err
	}
	return nil
}

// StopBot never fails once authorized: a child that resists termination is
// logged and forgotten. The child keeps its full grace period even if the
// caller goes away.
func (s *PanelService) StopBot(ctx context.Context, userID int64, key string) (supervisor.StopResult, error) {
	if err := s.authorize(ctx, userID, key); err != nil {
		return "", err
	}

	result, err := s.procs.Stop(context.WithoutCancel(ctx), key)
	if err != nil {
		logging.NewLogger(ctx).Errorf("StopBot", "key=%s result=%s error=%v", key, result, err)
	}
	return result, nil
}

func (s *PanelService) ReadBot(ctx context.Context, userID int64, key string) (string, error) {
	if err := s.authorize(ctx, userID, key); err != nil {
		return "", err
	}

	content, err := s.store.Read(userID, key)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// SaveBot replaces the artifact source. Browser line endings are normalized
// to "\n".
func (s *PanelService) SaveBot(ctx context.Context, userID int64, key, code string) error {
	if err := s.authorize(ctx, userID, key); err != nil {
		return err
	}

	code = strings.ReplaceAll(code, "\r\n", "\n")
	if err := s.store.Overwrite(userID, key, []byte(code)); err != nil {
		return err
	}
	logging.NewLogger(ctx).Infof("SaveBot", "key=%s size=%d", key, len(code))
	return nil
}

// BotLogs returns the tail of the artifact's captured output.
func (s *PanelService) BotLogs(ctx context.Context, userID int64, key string) ([]byte, error) {
	if err := s.authorize(ctx, userID, key); err != nil {
		return nil, err
	}
	return s.procs.LogTail(key, LogTailBytes)
}

// authorize requires approval and that key sits in the caller's namespace.
// Foreign keys look exactly like missing ones.
func (s *PanelService) authorize(ctx context.Context, userID int64, key string) error {
	if err := s.RequireApproval(ctx, userID); err != nil {
		return err
	}
	if !artifacts.OwnedBy(userID, key) {
		return artifacts.ErrNotFound
	}
	return nil
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, domain.ErrInvalidLogin
	}
	return id, nil
}
