package preferences

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// BlobStore is the durable key/value layer the store writes through to.
// Put fully overwrites any previous value for the key.
type BlobStore interface {
	GetBlob(key string) ([]byte, error)
	PutBlob(key string, data []byte) error
}

// blobKey is the fixed storage key for a user's preference blob
func blobKey(userID string) string {
	return "preferences:" + userID
}

// Store holds a user's preferences in memory and writes every mutation
// through to the blob store. Setters take effect in the running session even
// when persistence fails; a failed write degrades to log-and-continue.
type Store struct {
	mu     sync.RWMutex
	userID string
	prefs  Preferences
	blobs  BlobStore
}

// NewStore loads the last-persisted preferences for userID, falling back to
// defaults when the blob is absent or corrupt. Missing or corrupt data never
// surfaces as an error.
func NewStore(userID string, blobs BlobStore) *Store {
	s := &Store{
		userID: userID,
		prefs:  Default(),
		blobs:  blobs,
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.blobs == nil {
		return
	}
	data, err := s.blobs.GetBlob(blobKey(s.userID))
	if err != nil || len(data) == 0 {
		if err != nil {
			log.Printf("[Preferences] Failed to load blob for user %s, using defaults: %v", s.userID, err)
		}
		return
	}
	var loaded Preferences
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Printf("[Preferences] Corrupt blob for user %s, using defaults: %v", s.userID, err)
		return
	}
	s.prefs = loaded
}

// Current returns a copy of the in-memory preferences
func (s *Store) Current() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// Save fully overwrites the persisted blob with the in-memory state
func (s *Store) Save() error {
	s.mu.RLock()
	prefs := s.prefs
	s.mu.RUnlock()
	return s.persist(prefs)
}

func (s *Store) persist(prefs Preferences) error {
	if s.blobs == nil {
		return nil
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	if err := s.blobs.PutBlob(blobKey(s.userID), data); err != nil {
		return fmt.Errorf("failed to persist preferences: %w", err)
	}
	return nil
}

// mutate applies fn to a copy of the preferences, commits it in memory, and
// writes the whole object through to storage. Persistence failure does not
// roll back the in-memory change.
func (s *Store) mutate(fn func(*Preferences) error) error {
	s.mu.Lock()
	next := s.prefs
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.prefs = next
	s.mu.Unlock()

	if err := s.persist(next); err != nil {
		log.Printf("[Preferences] Write-through failed for user %s: %v", s.userID, err)
	}
	return nil
}

// SetFrequency sets the nudge frequency, rejecting values outside 1-5
func (s *Store) SetFrequency(freq int) error {
	return s.mutate(func(p *Preferences) error {
		if freq < FrequencyMin || freq > FrequencyMax {
			return fmt.Errorf("frequency %d out of range [%d, %d]", freq, FrequencyMin, FrequencyMax)
		}
		p.NudgeFrequency = freq
		return nil
	})
}

// ToggleChannel flips the named notification channel
func (s *Store) ToggleChannel(channel string) error {
	return s.mutate(func(p *Preferences) error {
		switch channel {
		case ChannelInApp:
			p.NotificationChannels.InApp = !p.NotificationChannels.InApp
		case ChannelPush:
			p.NotificationChannels.Push = !p.NotificationChannels.Push
		case ChannelEmail:
			p.NotificationChannels.Email = !p.NotificationChannels.Email
		default:
			return fmt.Errorf("unknown channel %q", channel)
		}
		return nil
	})
}

// SetQuietHours replaces the quiet-hours window. Malformed HH:MM strings are
// rejected and the prior window is retained.
func (s *Store) SetQuietHours(start, end string, enabled bool) error {
	return s.mutate(func(p *Preferences) error {
		if err := validateClock(start); err != nil {
			return err
		}
		if err := validateClock(end); err != nil {
			return err
		}
		p.QuietHours = QuietHours{Start: start, End: end, Enabled: enabled}
		return nil
	})
}

// ToggleIntegration flips the named integration
func (s *Store) ToggleIntegration(name string) error {
	return s.mutate(func(p *Preferences) error {
		switch name {
		case IntegrationGoogleCalendar:
			p.Integrations.GoogleCalendar = !p.Integrations.GoogleCalendar
		case IntegrationGoogleTasks:
			p.Integrations.GoogleTasks = !p.Integrations.GoogleTasks
		default:
			return fmt.Errorf("unknown integration %q", name)
		}
		return nil
	})
}
