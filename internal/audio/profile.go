package audio

import (
	"context"
	"fmt"
	"strings"
)

// cardName returns the PulseAudio-compatible card name BlueZ devices get,
// for example "bluez_card.14_3F_A6_27_0E_DD".
func cardName(addr string) string {
	return "bluez_card." + AddrFragment(addr)
}

// normalizeProfile folds the dash/underscore spelling difference between
// PulseAudio ("a2dp_sink") and PipeWire ("a2dp-sink") profile tokens.
func normalizeProfile(p string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(p)), "-", "_")
}

// activeProfile parses `pactl list cards` output and returns the active
// profile of the given card, or "" if the card is not present.
func activeProfile(listing, card string) string {
	inCard := false
	for _, raw := range strings.Split(listing, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "Name: ") {
			inCard = strings.TrimPrefix(line, "Name: ") == card
			continue
		}
		if inCard && strings.HasPrefix(line, "Active Profile: ") {
			return strings.TrimPrefix(line, "Active Profile: ")
		}
	}
	return ""
}

// SelectProfile asks the audio server to put the device's card into the
// given profile. Devices that auto-selected the profile on connect report
// ProfileAlreadyActive; a card that rejects the switch (or exposes no such
// profile) yields ErrProfileUnsupported.
func (g *Gateway) SelectProfile(ctx context.Context, addr, profile string) (ProfileOutcome, error) {
	card := cardName(addr)

	listing, err := g.run.run(ctx, "pactl", "list", "cards")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if active := activeProfile(listing, card); active != "" &&
		normalizeProfile(active) == normalizeProfile(profile) {
		g.log.Debug().Str("card", card).Str("profile", active).Msg("profile already active")
		return ProfileAlreadyActive, nil
	}

	if _, err := g.run.run(ctx, "pactl", "set-card-profile", card, profile); err != nil {
		return 0, fmt.Errorf("%w: %s on %s: %v", ErrProfileUnsupported, profile, card, err)
	}
	return ProfileApplied, nil
}
