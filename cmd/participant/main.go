package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/adapters/realtime"
	"github.com/ykwon/stormcall/internal/adapters/rtc"
	"github.com/ykwon/stormcall/internal/adapters/wsclient"
	"github.com/ykwon/stormcall/internal/app"
	"github.com/ykwon/stormcall/internal/config"
	"github.com/ykwon/stormcall/internal/domain"
	"github.com/ykwon/stormcall/internal/media"
)

func main() {
	sessionID := flag.String("session", "", "workshop session to join")
	name := flag.String("name", "", "display name")
	host := flag.Bool("host", false, "connect the facilitator agent after joining")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *sessionID == "" || *name == "" {
		log.Fatal().Msg("usage: participant -session <id> -name <name> [-host]")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	token, err := fetchJoinToken(ctx, cfg.RelayAPIURL, *sessionID, *name)
	if err != nil {
		log.Fatal().Err(err).Msg("token request failed")
	}

	transport, err := wsclient.Dial(ctx, cfg.RelayURL, token)
	if err != nil {
		log.Fatal().Err(err).Msg("relay dial failed")
	}

	sess := app.NewSession(ctx, app.SessionDeps{
		SessionID: domain.SessionID(*sessionID),
		Name:      *name,
		Transport: transport,
		Dial:      rtc.Dialer(rtc.DefaultConfig(cfg.ICEURLs)),
		Capture:   media.SyntheticProvider{},
		Agent:     realtime.NewClient(cfg.RealtimeTokenURL, cfg.RealtimeBaseURL),
		Duration:  time.Duration(cfg.SessionMinutes) * time.Minute,
	})

	if *host {
		// Dial out to the agent once the relay has handed us our identity.
		sess.OnReady(func() {
			go func() {
				if err := sess.AI().ConnectAgent(ctx, domain.SessionID(*sessionID)); err != nil {
					log.Error().Err(err).Msg("agent connect failed")
				}
			}()
		})
	}

	if err := sess.Join(ctx); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}

	if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("session ended with error")
	}
	_ = sess.Leave()
	_ = transport.Close()
	log.Info().Msg("participant exited")
}

func fetchJoinToken(ctx context.Context, apiBase, session, name string) (string, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/api/sessions/%s/token", apiBase, session)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}
