package benor_test

import (
	"errors"
	"testing"

	"github.com/usernamenenad/bft-benor/impl/benor"
)

func TestValidator(t *testing.T) {
	config, err := benor.NewConfig(5, 2)
	if err != nil {
		t.Fatal(err)
	}
	validator := benor.NewValidator(config)

	t.Run("well formed", func(t *testing.T) {
		messages := []*benor.Message{
			benor.NewPropose(0, 1, benor.ValueZero),
			benor.NewPropose(4, 9, benor.ValueOne),
			benor.NewVote(2, 3, benor.ValueUnknown),
		}
		for _, msg := range messages {
			if err := validator.ValidateMessage(msg); err != nil {
				t.Errorf("unexpected error for %+v: %v", *msg, err)
			}
		}
	})

	malformed := map[string]*benor.Message{
		"nil":             nil,
		"unknown phase":   {MessageType: benor.MessageType(2), From: 0, Round: 1},
		"round zero":      benor.NewPropose(0, 0, benor.ValueOne),
		"sender too high": benor.NewVote(5, 1, benor.ValueOne),
		"negative sender": benor.NewVote(-1, 1, benor.ValueOne),
		"value domain":    benor.NewVote(1, 1, benor.Value(3)),
		"unknown propose": benor.NewPropose(1, 1, benor.ValueUnknown),
	}
	for name, msg := range malformed {
		t.Run(name, func(t *testing.T) {
			err := validator.ValidateMessage(msg)
			if !errors.Is(err, benor.ErrInvalidMessage) {
				t.Errorf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

func TestConfig(t *testing.T) {
	t.Run("invalid", func(t *testing.T) {
		for _, c := range [][2]uint64{{0, 0}, {4, 4}, {3, 5}} {
			if _, err := benor.NewConfig(c[0], c[1]); !errors.Is(err, benor.ErrInvalidConfig) {
				t.Errorf("NewConfig(%d, %d): expected ErrInvalidConfig, got %v", c[0], c[1], err)
			}
		}
	})

	t.Run("thresholds", func(t *testing.T) {
		config, err := benor.NewConfig(7, 2)
		if err != nil {
			t.Fatal(err)
		}

		if got := config.QuorumSize(); got != 5 {
			t.Errorf("QuorumSize: got %d, want 5", got)
		}
		if got := config.DecisionThreshold(); got != 3 {
			t.Errorf("DecisionThreshold: got %d, want 3", got)
		}
		if config.Majority(3) || !config.Majority(4) {
			t.Error("Majority of 7 must start at 4")
		}
	})

	t.Run("effective f", func(t *testing.T) {
		config, err := benor.NewConfig(4, 3)
		if err != nil {
			t.Fatal(err)
		}
		if got := config.EffectiveF(); got != 2 {
			t.Errorf("EffectiveF: got %d, want 2", got)
		}
	})
}
