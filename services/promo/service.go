// Package promo drives coupon creation against the registration
// site's dynamically discovered forms.
package promo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"raceops-backend/lib/cookiestore"
	"raceops-backend/lib/scrapers/myrace"
)

var tracer = otel.Tracer("services/promo")

type Service struct {
	client *myrace.Client
}

type ServiceOptions struct {
	Client *myrace.Client
}

func NewService(opts ServiceOptions) Service {
	return Service{client: opts.Client}
}

// Login establishes (or reuses) a session for the account.
func (s Service) Login(ctx context.Context, creds myrace.Credentials, opts myrace.AuthOptions) (myrace.Session, error) {
	return s.client.Authenticate(ctx, creds, opts)
}

// ImportCookies replaces the persisted session with cookies exported
// from a browser, in Netscape format.
func (s Service) ImportCookies(raw string) (int, error) {
	cookies := cookiestore.Parse(raw)
	if len(cookies) == 0 {
		return 0, fmt.Errorf("no cookies found in the input")
	}
	if err := s.client.CookieStore().Save(cookies); err != nil {
		return 0, err
	}
	return len(cookies), s.client.LoadCookies()
}

func (s Service) ListCouponTypes(ctx context.Context, raceID int) ([]myrace.CouponType, error) {
	return s.client.ListCouponTypes(ctx, raceID)
}

// ListPromos reports the promo codes that already exist for a race
// along with how many uses each has left.
func (s Service) ListPromos(ctx context.Context, raceID int) ([]myrace.PromoUsage, error) {
	ctx, span := tracer.Start(ctx, "ListPromos")
	defer span.End()

	promos, err := s.client.ListPromos(ctx, raceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing promos failed")
		return nil, err
	}
	return promos, nil
}

// resolveType canonicalizes the request's type selector against what
// the site actually lists for this race. An empty selector stays
// empty; listing failures surface rather than being guessed around.
func (s Service) resolveType(ctx context.Context, raceID int, selector string) (string, error) {
	if selector == "" {
		return "", nil
	}
	types, err := s.client.ListCouponTypes(ctx, raceID)
	if err != nil {
		return "", err
	}
	if len(types) == 0 {
		// the site hides the type chooser for single-type races
		return selector, nil
	}
	resolved, err := myrace.ResolveCouponType(types, selector)
	if err != nil {
		return "", err
	}
	return resolved.DisplayName, nil
}

// Create makes one coupon. The returned result carries the payload
// that was submitted and the code the server actually stored.
func (s Service) Create(ctx context.Context, raceID int, req myrace.CouponRequest) (myrace.CreationResult, error) {
	ctx, span := tracer.Start(ctx, "Create")
	defer span.End()

	resolved, err := s.resolveType(ctx, raceID, req.Type)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolving coupon type failed")
		return myrace.CreationResult{Code: req.Code}, err
	}
	req.Type = resolved

	result, err := s.client.CreateCoupon(ctx, raceID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "coupon creation failed")
		return result, err
	}

	if result.Submitted {
		slog.InfoContext(ctx, "coupon created",
			"code", result.Code, "actual_code", result.ActualCode, "race_id", raceID)
	}
	return result, nil
}

// BatchEntry is the outcome for one code of a batch.
type BatchEntry struct {
	Code   string
	Result myrace.CreationResult
	Err    error
}

// CreateBatch creates one coupon per code from a shared template.
// Codes are independent: a failure is recorded and the batch moves
// on, so one rejected code cannot sink the rest.
func (s Service) CreateBatch(ctx context.Context, raceID int, codes []string, template myrace.CouponRequest) []BatchEntry {
	ctx, span := tracer.Start(ctx, "CreateBatch")
	defer span.End()

	resolved, err := s.resolveType(ctx, raceID, template.Type)
	if err == nil {
		template.Type = resolved
	} else {
		// keep the raw selector, each creation will surface the error
		slog.WarnContext(ctx, "resolving coupon type failed, keeping the raw selector",
			"type", template.Type, "err", err)
	}

	entries := make([]BatchEntry, 0, len(codes))
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			entries = append(entries, BatchEntry{Code: code, Err: err})
			continue
		}

		req := template
		req.Code = code
		result, err := s.client.CreateCoupon(ctx, raceID, req)
		if err != nil {
			slog.ErrorContext(ctx, "creating coupon failed", "code", code, "err", err)
		}
		entries = append(entries, BatchEntry{Code: code, Result: result, Err: err})
	}
	return entries
}

const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateCodes produces n random codes with the given prefix, drawn
// from an alphabet without lookalike characters.
func GenerateCodes(prefix string, n, length int) ([]string, error) {
	if length <= 0 {
		length = 8
	}
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		suffix, err := random.Random(length, codeAlphabet, false)
		if err != nil {
			return nil, err
		}
		codes = append(codes, prefix+suffix)
	}
	return codes, nil
}
