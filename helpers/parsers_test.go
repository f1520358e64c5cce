package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"2048b", 2048},
		{"1kb", 1024},
		{"512mb", 512 * 1024 * 1024},
		{"1gb", 1024 * 1024 * 1024},
		{"5MB", 5 * 1024 * 1024},
		{" 10 kb ", 10 * 1024},
	}
	for _, c := range cases {
		got, err := ParseSize(c.in)
		assert.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseSizeInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1.5gb", "-5mb", "10tb"} {
		_, err := ParseSize(in)
		assert.Error(t, err, in)
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"1d", 24 * time.Hour},
		{"14d", 14 * 24 * time.Hour},
		{"-7d", -7 * 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		assert.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseDurationInvalid(t *testing.T) {
	for _, in := range []string{"", "d", "x5d", "5 days"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, in)
	}
}
