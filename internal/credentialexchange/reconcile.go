package credentialexchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var ErrTokenRejectedMidRun = errors.New("access token rejected mid run, entitlement not attempted")

type Status string

const (
	StatusSucceeded        Status = "succeeded"
	StatusExchangeFailed   Status = "exchange failed"
	StatusWriteFailed      Status = "write failed"
	StatusPartiallyApplied Status = "partially applied"
)

// ItemResult is the outcome for one entitlement of the pass.
type ItemResult struct {
	Entitlement Entitlement
	ProfileName string
	Status      Status
	Err         error
	ConsoleUrl  string
	ActivateCmd string
}

// Summary is the terminal report of a reconciliation pass. Results keep
// enumeration order regardless of worker completion order.
type Summary struct {
	Results         []ItemResult
	AccountFailures []AccountFailure
	Succeeded       int
	Failed          int
}

// Orchestrator drives a single reconciliation pass:
// resolve token -> enumerate -> exchange and write per entitlement ->
// summarize. Fatal failures (token resolution, account listing) abort the
// pass; everything after that is classified per entitlement.
type Orchestrator struct {
	svc         SsoApi
	writer      *Writer
	settings    *Settings
	log         zerolog.Logger
	concurrency int
	callTimeout time.Duration
}

func NewOrchestrator(svc SsoApi, writer *Writer, settings *Settings, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		svc:         svc,
		writer:      writer,
		settings:    settings,
		log:         log,
		concurrency: 4,
		callTimeout: 30 * time.Second,
	}
}

// WithConcurrency bounds the exchange+write worker pool. 1 degrades to
// fully sequential processing.
func (o *Orchestrator) WithConcurrency(n int) *Orchestrator {
	if n > 0 {
		o.concurrency = n
	}
	return o
}

func (o *Orchestrator) WithCallTimeout(d time.Duration) *Orchestrator {
	if d > 0 {
		o.callTimeout = d
	}
	return o
}

// Run executes one pass. The returned error is non-nil only for fatal
// classifications; per entitlement failures land in the summary with a
// nil error so the caller still exits on the success path.
func (o *Orchestrator) Run(ctx context.Context, paths *Paths) (*Summary, error) {
	token, err := LocateToken(paths.SsoCacheDir, o.settings.Aws.SsoStartUrl, time.Now())
	if err != nil {
		return nil, err
	}
	o.log.Debug().Str("startUrl", token.StartUrl).Time("expiresAt", token.ExpiresAt).Msg("resolved cached token")

	entitlements, accountFailures, err := Enumerate(ctx, o.svc, token.AccessToken)
	if err != nil {
		return nil, err
	}
	for _, failure := range accountFailures {
		o.log.Warn().Str("accountId", failure.AccountId).Err(failure.Err).Msg("role listing failed, account skipped")
	}

	summary := &Summary{
		Results:         make([]ItemResult, len(entitlements)),
		AccountFailures: accountFailures,
	}
	if len(entitlements) == 0 {
		o.log.Info().Msg("no accessible accounts for this identity")
		return summary, nil
	}

	var (
		wg         sync.WaitGroup
		sem        = make(chan struct{}, o.concurrency)
		authFailed atomic.Bool
	)
	for i, ent := range entitlements {
		wg.Add(1)
		go func(i int, ent Entitlement) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			summary.Results[i] = o.processOne(ctx, token.AccessToken, ent, &authFailed)
		}(i, ent)
	}
	wg.Wait()

	for _, result := range summary.Results {
		if result.Status == StatusSucceeded {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

func (o *Orchestrator) processOne(ctx context.Context, accessToken string, ent Entitlement, authFailed *atomic.Bool) ItemResult {
	result := ItemResult{
		Entitlement: ent,
		ProfileName: ent.ProfileName(),
		ConsoleUrl:  ent.ConsoleUrl(o.settings.Aws.SsoStartUrl),
		ActivateCmd: fmt.Sprintf("set %s=%s", PROFILE_ENV_VAR, ent.ProfileName()),
	}

	if authFailed.Load() {
		result.Status = StatusExchangeFailed
		result.Err = fmt.Errorf("%s: %w", ent, ErrTokenRejectedMidRun)
		return result
	}

	cred, err := Exchange(ctx, o.svc, accessToken, ent, o.callTimeout)
	if err != nil {
		if IsAuthError(err) {
			authFailed.Store(true)
		}
		o.log.Warn().Str("entitlement", ent.String()).Err(err).Msg("exchange failed")
		result.Status = StatusExchangeFailed
		result.Err = err
		return result
	}
	o.log.Debug().Str("entitlement", ent.String()).Time("expiration", cred.Expiration).Msg("got role credentials")

	if err := o.writer.Write(ent, cred); err != nil {
		// never log the fetched credential itself here
		o.log.Warn().Str("entitlement", ent.String()).Err(err).Msg("profile write failed")
		if errors.Is(err, ErrPartiallyApplied) {
			result.Status = StatusPartiallyApplied
		} else {
			result.Status = StatusWriteFailed
		}
		result.Err = err
		return result
	}

	o.log.Info().Str("profile", result.ProfileName).Msg("profile updated")
	result.Status = StatusSucceeded
	return result
}

// Render writes the human readable summary: per entitlement outcomes,
// console deep links and ready to paste activation commands.
func (s *Summary) Render(w io.Writer) {
	fmt.Fprintf(w, "%d succeeded, %d failed\n", s.Succeeded, s.Failed)
	for _, failure := range s.AccountFailures {
		fmt.Fprintf(w, "account %s skipped: %v\n", failure.AccountId, failure.Err)
	}
	for _, result := range s.Results {
		if result.Status == StatusSucceeded {
			continue
		}
		fmt.Fprintf(w, "%s: %s (%v)\n", result.Entitlement, result.Status, result.Err)
	}
	if s.Succeeded == 0 {
		return
	}
	fmt.Fprintf(w, "\nDirect URLs to the console:\n\n")
	for _, result := range s.Results {
		if result.Status == StatusSucceeded {
			fmt.Fprintln(w, result.ConsoleUrl)
		}
	}
	fmt.Fprintf(w, "\nCut paste one of following to set profile:\n\n")
	for _, result := range s.Results {
		if result.Status == StatusSucceeded {
			fmt.Fprintln(w, result.ActivateCmd)
		}
	}
}
