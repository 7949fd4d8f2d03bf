package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/didata-ai/didata/pkg/provider/s2s"
	s2smock "github.com/didata-ai/didata/pkg/provider/s2s/mock"
)

func TestS2SFallback_ConnectFailover(t *testing.T) {
	t.Parallel()
	primary := &s2smock.Provider{ConnectErr: errors.New("dial refused")}
	secondary := &s2smock.Provider{}
	fb := NewS2SFallback(primary, "native-audio", FallbackConfig{})
	fb.AddFallback("half-cascade", secondary)

	cfg := s2s.SessionConfig{Voice: "Kore"}
	sess, err := fb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if len(primary.ConnectCalls) != 1 || len(secondary.ConnectCalls) != 1 {
		t.Fatalf("connect calls = %d/%d; want 1/1", len(primary.ConnectCalls), len(secondary.ConnectCalls))
	}
	if secondary.ConnectCalls[0].Cfg.Voice != "Kore" {
		t.Fatalf("fallback cfg = %+v; want same session config", secondary.ConnectCalls[0].Cfg)
	}
}

func TestS2SFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewS2SFallback(&s2smock.Provider{ConnectErr: errors.New("down")}, "only", FallbackConfig{})
	if _, err := fb.Connect(context.Background(), s2s.SessionConfig{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v; want ErrAllFailed", err)
	}
}

func TestS2SFallback_Capabilities(t *testing.T) {
	t.Parallel()
	primary := &s2smock.Provider{ProviderCapabilities: s2s.Capabilities{Voices: []string{"Puck"}, OutputSampleRate: 24000}}
	fb := NewS2SFallback(primary, "native-audio", FallbackConfig{})
	if caps := fb.Capabilities(); caps.OutputSampleRate != 24000 || len(caps.Voices) != 1 {
		t.Fatalf("Capabilities = %+v; want primary's", caps)
	}
}
