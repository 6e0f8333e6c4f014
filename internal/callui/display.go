package callui

import "sync"

// DisplayConfig is the process-wide look of presented calls.
type DisplayConfig struct {
	Ringtone string `json:"ringtone,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

// DisplayConfigUpdate changes only the fields that are non-nil.
type DisplayConfigUpdate struct {
	Ringtone *string `json:"ringtone,omitempty"`
	Icon     *string `json:"icon,omitempty"`
}

func (c DisplayConfig) Apply(u DisplayConfigUpdate) DisplayConfig {
	if u.Ringtone != nil {
		c.Ringtone = *u.Ringtone
	}
	if u.Icon != nil {
		c.Icon = *u.Icon
	}
	return c
}

// DisplaySettings holds the current DisplayConfig. Presentations read a copy,
// so an update only affects requests made after it.
type DisplaySettings struct {
	mu  sync.RWMutex
	cur DisplayConfig
}

func NewDisplaySettings(initial DisplayConfig) *DisplaySettings {
	return &DisplaySettings{cur: initial}
}

func (d *DisplaySettings) Current() DisplayConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cur
}

func (d *DisplaySettings) Update(u DisplayConfigUpdate) DisplayConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cur = d.cur.Apply(u)
	return d.cur
}
