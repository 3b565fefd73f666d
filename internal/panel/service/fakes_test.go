package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	artifacts "github.com/botpanel-dev/bot-panel-backend/internal/artifacts/domain"
	"github.com/botpanel-dev/bot-panel-backend/internal/users"
)

type fakeDirectory struct {
	mu       sync.Mutex
	accounts map[int64]*users.Account
	failGet  error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{accounts: make(map[int64]*users.Account)}
}

func (d *fakeDirectory) GetAccount(_ context.Context, id int64) (*users.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failGet != nil {
		return nil, d.failGet
	}
	acct, ok := d.accounts[id]
	if !ok {
		return nil, users.ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (d *fakeDirectory) CreateAccount(_ context.Context, id int64, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[id]; ok {
		return users.ErrAccountExists
	}
	d.accounts[id] = &users.Account{ID: id, PasswordHash: hash, CreatedAt: time.Now()}
	return nil
}

func (d *fakeDirectory) MarkVerified(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[id]
	if !ok {
		return users.ErrAccountNotFound
	}
	now := time.Now()
	acct.Verified = true
	acct.VerifiedAt = &now
	return nil
}

func (d *fakeDirectory) verified(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[id]
	return ok && acct.Verified
}

type sentOTP struct {
	userID int64
	code   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentOTP
	err  error
}

func (f *fakeSender) SendOTP(_ context.Context, userID int64, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentOTP{userID: userID, code: code})
	return f.err
}

func (f *fakeSender) last() (sentOTP, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentOTP{}, false
	}
	return f.sent[len(f.sent)-1], true
}

// fakeUploadLog keeps records in insertion order.
type fakeUploadLog struct {
	mu      sync.Mutex
	records []artifacts.UploadRecord
	failGet error
}

func (l *fakeUploadLog) RecordUpload(_ context.Context, rec artifacts.UploadRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *fakeUploadLog) RecentUploads(_ context.Context, ownerID int64, limit int) ([]artifacts.UploadRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failGet != nil {
		return nil, l.failGet
	}
	var out []artifacts.UploadRecord
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		if l.records[i].OwnerID == ownerID {
			out = append(out, l.records[i])
		}
	}
	return out, nil
}

var errBoom = errors.New("boom")
