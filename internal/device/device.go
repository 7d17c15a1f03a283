// Package device defines the narrow calls the assistant makes into the
// hardware it runs on, and the Bridge that turns dispatch effects into them.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/bai/internal/alarmtime"
	"github.com/ashureev/bai/internal/domain"
)

// ErrMicrophoneDenied is returned by Listen when the user refused access.
var ErrMicrophoneDenied = errors.New("microphone permission denied")

// AlarmScheduler sets an alarm on the device clock.
type AlarmScheduler interface {
	ScheduleAlarm(ctx context.Context, alarm domain.ScheduledAlarm) error
}

// Speaker reads text aloud.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Notifier shows a short notice, e.g. a toast.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notice)
}

// SpeechCapture records a single utterance and returns its transcription.
type SpeechCapture interface {
	CaptureSpeech(ctx context.Context) (string, error)
}

// MicrophonePermission asks the user for microphone access.
type MicrophonePermission interface {
	RequestMicrophone(ctx context.Context) (bool, error)
}

// Listen requests microphone access and captures one utterance.
func Listen(ctx context.Context, perm MicrophonePermission, capture SpeechCapture) (string, error) {
	granted, err := perm.RequestMicrophone(ctx)
	if err != nil {
		return "", fmt.Errorf("request microphone: %w", err)
	}
	if !granted {
		return "", ErrMicrophoneDenied
	}
	text, err := capture.CaptureSpeech(ctx)
	if err != nil {
		return "", fmt.Errorf("capture speech: %w", err)
	}
	return text, nil
}

// Bridge resolves alarm times and forwards dispatch effects to the device
// collaborators. Speaker and scheduler may be nil.
type Bridge struct {
	resolver *alarmtime.Resolver
	alarms   AlarmScheduler
	speaker  Speaker
	logger   *slog.Logger

	mu        sync.RWMutex
	notifiers []Notifier
}

// NewBridge creates a bridge. Additional notifiers can be attached later
// with AddNotifier.
func NewBridge(resolver *alarmtime.Resolver, alarms AlarmScheduler, speaker Speaker, logger *slog.Logger, notifiers ...Notifier) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		resolver:  resolver,
		alarms:    alarms,
		speaker:   speaker,
		logger:    logger,
		notifiers: notifiers,
	}
}

// AddNotifier registers another notice sink.
func (b *Bridge) AddNotifier(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifiers = append(b.notifiers, n)
}

// Notify fans n out to every notifier.
func (b *Bridge) Notify(ctx context.Context, n domain.Notice) {
	b.mu.RLock()
	notifiers := append([]Notifier(nil), b.notifiers...)
	b.mu.RUnlock()

	for _, sink := range notifiers {
		sink.Notify(ctx, n)
	}
}

// Speak forwards text to the speaker. Playback failures are logged only.
func (b *Bridge) Speak(ctx context.Context, text string) {
	if b.speaker == nil {
		return
	}
	if err := b.speaker.Speak(ctx, text); err != nil {
		b.logger.Warn("speech playback failed", "error", err)
	}
}

// ScheduleAlarm resolves req.Time and hands the alarm to the scheduler.
// An unparseable time yields an error wrapping alarmtime.ErrInvalid.
func (b *Bridge) ScheduleAlarm(ctx context.Context, req domain.AlarmRequest) (domain.ScheduledAlarm, error) {
	t, err := b.resolver.Resolve(req.Time)
	if err != nil {
		return domain.ScheduledAlarm{}, err
	}
	alarm := domain.ScheduledAlarm{
		Hour:    t.Hour,
		Minute:  t.Minute,
		Weekday: t.Weekday,
		Label:   req.Label,
	}
	if b.alarms == nil {
		return domain.ScheduledAlarm{}, errors.New("no alarm scheduler attached")
	}
	if err := b.alarms.ScheduleAlarm(ctx, alarm); err != nil {
		return domain.ScheduledAlarm{}, fmt.Errorf("schedule alarm: %w", err)
	}
	b.logger.Info("alarm scheduled", "time", alarm.Clock(), "weekday", alarm.Weekday, "label", alarm.Label)
	return alarm, nil
}
