package announce

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bossbot/internal/domain"
	"bossbot/internal/transport"
	"bossbot/pkg/logx"
)

type fakeSender struct {
	sent    []string
	targets []transport.ChatTarget
	failFor map[int64]error
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if err := f.failFor[to.ChatID]; err != nil {
		return transport.MessageRef{}, err
	}
	f.sent = append(f.sent, text)
	f.targets = append(f.targets, to)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

type fakeBindings struct {
	binds []domain.GuildBinding
	err   error
}

func (f *fakeBindings) ListBindingsByGame(context.Context, string) ([]domain.GuildBinding, error) {
	return f.binds, f.err
}

func TestAlertBroadcastsToAllBindings(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	binds := &fakeBindings{binds: []domain.GuildBinding{
		{ChatID: 1, ThreadID: 0},
		{ChatID: 2, ThreadID: 7},
	}}
	loc, _ := time.LoadLocation("Asia/Bangkok")
	a := New(sender, binds, logx.Nop(), loc, 1000)

	spawn := time.Date(2025, 9, 4, 3, 30, 0, 0, time.UTC) // 10:30 Bangkok
	if err := a.Alert(context.Background(), "g1", "Valakas", spawn); err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent = %d messages, want 2", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0], "Valakas") || !strings.Contains(sender.sent[0], "10:30") {
		t.Fatalf("alert text = %q", sender.sent[0])
	}
	if sender.targets[1].ThreadID != 7 {
		t.Fatalf("thread id not forwarded: %+v", sender.targets[1])
	}
}

func TestBrokenChatDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{failFor: map[int64]error{1: errors.New("chat not found")}}
	binds := &fakeBindings{binds: []domain.GuildBinding{{ChatID: 1}, {ChatID: 2}}}
	a := New(sender, binds, logx.Nop(), nil, 1000)

	if err := a.Spawn(context.Background(), "g1", "Kraken", time.Now()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d messages, want 1 (the healthy chat)", len(sender.sent))
	}
}

func TestNoBindingsIsSilent(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	a := New(sender, &fakeBindings{}, logx.Nop(), nil, 1000)
	if err := a.Spawn(context.Background(), "g1", "Kraken", time.Now()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent = %d messages, want 0", len(sender.sent))
	}
}

func TestBindingLookupFailureSurfaces(t *testing.T) {
	t.Parallel()
	a := New(&fakeSender{}, &fakeBindings{err: errors.New("db closed")}, logx.Nop(), nil, 1000)
	if err := a.Alert(context.Background(), "g1", "Kraken", time.Now()); err == nil {
		t.Fatal("expected binding lookup error to surface")
	}
}
