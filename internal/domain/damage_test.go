package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBoundingBox(t *testing.T) {
	tests := []struct {
		name    string
		x, y    float64
		w, h    float64
		wantErr bool
	}{
		{name: "valid box", x: 10, y: 20, w: 30, h: 40},
		{name: "origin box", x: 0, y: 0, w: 1, h: 1},
		{name: "negative x", x: -1, y: 0, w: 10, h: 10, wantErr: true},
		{name: "negative y", x: 0, y: -1, w: 10, h: 10, wantErr: true},
		{name: "zero width", x: 0, y: 0, w: 0, h: 10, wantErr: true},
		{name: "zero height", x: 0, y: 0, w: 10, h: 0, wantErr: true},
		{name: "negative height", x: 0, y: 0, w: 10, h: -5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box, err := NewBoundingBox(tt.x, tt.y, tt.w, tt.h)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, EINVALID, ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.w*tt.h, box.Area())
		})
	}
}

func TestBoundingBox_Center(t *testing.T) {
	box, err := NewBoundingBox(10, 20, 30, 40)
	require.NoError(t, err)

	cx, cy := box.Center()
	assert.Equal(t, 25.0, cx)
	assert.Equal(t, 40.0, cy)
}

func TestNewDamage(t *testing.T) {
	box, err := NewBoundingBox(0, 0, 50, 50)
	require.NoError(t, err)

	tests := []struct {
		name       string
		damageType DamageType
		severity   DamageSeverity
		confidence float64
		frame      int
		wantErr    bool
	}{
		{name: "valid damage", damageType: DamageTypeDent, severity: SeverityModerate, confidence: 0.85, frame: 12},
		{name: "confidence at lower bound", damageType: DamageTypeScratch, severity: SeverityMinor, confidence: 0, frame: 0},
		{name: "confidence at upper bound", damageType: DamageTypeRust, severity: SeverityCritical, confidence: 1, frame: 3},
		{name: "confidence above one", damageType: DamageTypeDent, severity: SeverityMinor, confidence: 1.01, frame: 0, wantErr: true},
		{name: "negative confidence", damageType: DamageTypeDent, severity: SeverityMinor, confidence: -0.1, frame: 0, wantErr: true},
		{name: "negative frame", damageType: DamageTypeDent, severity: SeverityMinor, confidence: 0.5, frame: -1, wantErr: true},
		{name: "unknown severity token", damageType: DamageTypeDent, severity: DamageSeverity("huge"), confidence: 0.5, frame: 0, wantErr: true},
		{name: "unknown type token", damageType: DamageType("smudge"), severity: SeverityMinor, confidence: 0.5, frame: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDamage(tt.damageType, tt.severity, tt.confidence, box, tt.frame, 0.4)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, EINVALID, ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, "", d.ID.String())
			assert.Equal(t, tt.damageType, d.Type)
			assert.Equal(t, tt.frame, d.FrameNumber)
		})
	}
}

func TestDamage_Severe(t *testing.T) {
	box, _ := NewBoundingBox(0, 0, 10, 10)

	severe, err := NewDamage(DamageTypeCrack, SeveritySevere, 0.9, box, 0, 0)
	require.NoError(t, err)
	assert.True(t, severe.Severe())

	critical, err := NewDamage(DamageTypeCrack, SeverityCritical, 0.9, box, 0, 0)
	require.NoError(t, err)
	assert.True(t, critical.Severe())

	minor, err := NewDamage(DamageTypeCrack, SeverityMinor, 0.9, box, 0, 0)
	require.NoError(t, err)
	assert.False(t, minor.Severe())
}
