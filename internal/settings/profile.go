package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	KeyHost0Name      = "host_0_name"
	KeyHost1Name      = "host_1_name"
	KeyHost0Color     = "host_0_color"
	KeyHost1Color     = "host_1_color"
	KeyHostsConfirmed = "hosts_confirmed"

	KeyFirstLaunchCompleted = "firstLaunchCompleted"
)

const (
	DefaultHost0Name  = "Sprecher 1"
	DefaultHost1Name  = "Sprecher 2"
	DefaultHost0Color = "#d97757"
	DefaultHost1Color = "#5B8C5A"
)

// HostProfile names and colors the two diarized speakers, SPEAKER_0 and
// SPEAKER_1.
type HostProfile struct {
	Host0Name  string `json:"host0_name"`
	Host1Name  string `json:"host1_name"`
	Host0Color string `json:"host0_color"`
	Host1Color string `json:"host1_color"`
	Confirmed  bool   `json:"confirmed"`
}

func DefaultHostProfile() HostProfile {
	return HostProfile{
		Host0Name:  DefaultHost0Name,
		Host1Name:  DefaultHost1Name,
		Host0Color: DefaultHost0Color,
		Host1Color: DefaultHost1Color,
	}
}

// LoadHostProfile fills every missing key with its default.
func LoadHostProfile(ctx context.Context, s Settings) HostProfile {
	confirmed, _ := strconv.ParseBool(GetOr(ctx, s, KeyHostsConfirmed, "false"))
	return HostProfile{
		Host0Name:  GetOr(ctx, s, KeyHost0Name, DefaultHost0Name),
		Host1Name:  GetOr(ctx, s, KeyHost1Name, DefaultHost1Name),
		Host0Color: GetOr(ctx, s, KeyHost0Color, DefaultHost0Color),
		Host1Color: GetOr(ctx, s, KeyHost1Color, DefaultHost1Color),
		Confirmed:  confirmed,
	}
}

func (p HostProfile) Validate() error {
	if strings.TrimSpace(p.Host0Name) == "" || strings.TrimSpace(p.Host1Name) == "" {
		return fmt.Errorf("host names must not be empty")
	}
	for _, c := range []string{p.Host0Color, p.Host1Color} {
		if !isHexColor(c) {
			return fmt.Errorf("invalid color %q", c)
		}
	}
	return nil
}

// SaveHostProfile writes every key and returns the joined write errors.
func SaveHostProfile(ctx context.Context, s Settings, p HostProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return errors.Join(
		s.Set(ctx, KeyHost0Name, strings.TrimSpace(p.Host0Name)),
		s.Set(ctx, KeyHost1Name, strings.TrimSpace(p.Host1Name)),
		s.Set(ctx, KeyHost0Color, p.Host0Color),
		s.Set(ctx, KeyHost1Color, p.Host1Color),
		s.Set(ctx, KeyHostsConfirmed, strconv.FormatBool(p.Confirmed)),
	)
}

// SpeakerName maps a diarization label to the configured host name.
// Unknown labels are returned as-is.
func (p HostProfile) SpeakerName(label string) string {
	switch label {
	case "SPEAKER_0":
		return p.Host0Name
	case "SPEAKER_1":
		return p.Host1Name
	default:
		return label
	}
}

// IsFirstLaunch is true until MarkFirstLaunchComplete ran, and also when
// the store cannot be read.
func IsFirstLaunch(ctx context.Context, s Settings) bool {
	v, _ := s.Get(ctx, KeyFirstLaunchCompleted)
	return v != "true"
}

func MarkFirstLaunchComplete(ctx context.Context, s Settings) error {
	return s.Set(ctx, KeyFirstLaunchCompleted, "true")
}

func isHexColor(c string) bool {
	if len(c) != 7 && len(c) != 4 {
		return false
	}
	if c[0] != '#' {
		return false
	}
	for _, r := range c[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
