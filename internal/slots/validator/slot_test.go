package validator

import (
	"slotswapper/pkg/logger"
	"slotswapper/pkg/model"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	v := NewSlotValidator(logger.Discard())
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		slot    model.Slot
		wantErr bool
	}{
		{
			name:    "valid",
			slot:    model.Slot{Title: "Standup", StartTime: start, EndTime: start.Add(time.Hour), State: model.SlotUnlisted},
			wantErr: false,
		},
		{
			name:    "missing title",
			slot:    model.Slot{StartTime: start, EndTime: start.Add(time.Hour), State: model.SlotUnlisted},
			wantErr: true,
		},
		{
			name:    "end before start",
			slot:    model.Slot{Title: "Standup", StartTime: start, EndTime: start.Add(-time.Hour), State: model.SlotUnlisted},
			wantErr: true,
		},
		{
			name:    "end equals start",
			slot:    model.Slot{Title: "Standup", StartTime: start, EndTime: start, State: model.SlotUnlisted},
			wantErr: true,
		},
		{
			name:    "unknown state",
			slot:    model.Slot{Title: "Standup", StartTime: start, EndTime: start.Add(time.Hour), State: "BUSY"},
			wantErr: true,
		},
		{
			name:    "title too long",
			slot:    model.Slot{Title: string(make([]rune, 101)), StartTime: start, EndTime: start.Add(time.Hour), State: model.SlotUnlisted},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(&tt.slot)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateUpdate(t *testing.T) {
	v := NewSlotValidator(logger.Discard())
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	before := start.Add(-time.Hour)

	tests := []struct {
		name    string
		update  model.SlotUpdate
		wantErr bool
	}{
		{"title only", model.SlotUpdate{Title: "New"}, false},
		{"times", model.SlotUpdate{StartTime: &start, EndTime: &end}, false},
		{"empty", model.SlotUpdate{}, true},
		{"inverted times", model.SlotUpdate{StartTime: &start, EndTime: &before}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateUpdate(&tt.update)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUpdate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateState(t *testing.T) {
	v := NewSlotValidator(logger.Discard())

	for _, state := range []model.SlotState{model.SlotListed, model.SlotUnlisted} {
		if err := v.ValidateState(&model.SlotStateUpdate{State: state}); err != nil {
			t.Errorf("ValidateState(%s) = %v", state, err)
		}
	}
	if err := v.ValidateState(&model.SlotStateUpdate{State: model.SlotReserved}); err == nil {
		t.Errorf("owners must not set %s", model.SlotReserved)
	}
}
