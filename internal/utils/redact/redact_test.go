package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"azure sas",
			"https://acc.blob.core.windows.net/vid/master.m3u8?sv=2021-08-06&se=2026-01-01&sp=rl&sig=abc%2Fdef",
			"https://acc.blob.core.windows.net/vid/master.m3u8?sv=2021-08-06&se=2026-01-01&sp=rl&sig=[REDACTED]",
		},
		{
			"s3 presign",
			"https://s3.example.com/b/k?X-Amz-Credential=AK%2F2026&X-Amz-Signature=ff00",
			"https://s3.example.com/b/k?X-Amz-Credential=[REDACTED]&X-Amz-Signature=[REDACTED]",
		},
		{
			"proxy token",
			"http://localhost:8290/hlsProxy/https%3A%2F%2Fhost%2Fa.m3u8/sv=1&sig=x",
			"http://localhost:8290/hlsProxy/https%3A%2F%2Fhost%2Fa.m3u8/[REDACTED]",
		},
		{"plain", "https://example.com/a.ts?part=1", "https://example.com/a.ts?part=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, URL(tt.in))
		})
	}
}

func TestFingerprint(t *testing.T) {
	assert.Empty(t, Fingerprint(""))
	assert.Len(t, Fingerprint("sig=abc"), 8)
	assert.Equal(t, Fingerprint("sig=abc"), Fingerprint("sig=abc"))
	assert.NotEqual(t, Fingerprint("sig=abc"), Fingerprint("sig=abd"))
}
