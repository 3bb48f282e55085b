package internaldefs

import (
	"strconv"

	goVerify "github.com/MrEthical07/goVerify"
)

// Series is one labeled sample of a family.
type Series struct {
	ID    goVerify.MetricID
	Label string // label value; empty for unlabeled families
}

// Family groups counters that share a name and differ by one label.
type Family struct {
	Name     string
	Help     string
	LabelKey string
	Series   []Series
}

func purposeSeries(loginOTP, secondFactor, emailOwnership goVerify.MetricID) []Series {
	return []Series{
		{ID: loginOTP, Label: string(goVerify.PurposeLoginOTP)},
		{ID: secondFactor, Label: string(goVerify.PurposeSecondFactor)},
		{ID: emailOwnership, Label: string(goVerify.PurposeEmailOwnership)},
	}
}

func single(id goVerify.MetricID) []Series {
	return []Series{{ID: id}}
}

// Families lists every exported counter family in render order.
var Families = []Family{
	{
		Name: "goverify_tokens_issued_total", Help: "Verification codes issued and delivered.", LabelKey: "purpose",
		Series: purposeSeries(goVerify.MetricLoginOTPIssued, goVerify.MetricSecondFactorIssued, goVerify.MetricEmailOwnershipIssued),
	},
	{
		Name: "goverify_tokens_verified_total", Help: "Successful code verifications.", LabelKey: "purpose",
		Series: purposeSeries(goVerify.MetricLoginOTPVerified, goVerify.MetricSecondFactorVerified, goVerify.MetricEmailOwnershipVerified),
	},
	{
		Name: "goverify_token_failures_total", Help: "Failed code issuances or verifications.", LabelKey: "purpose",
		Series: purposeSeries(goVerify.MetricLoginOTPFailure, goVerify.MetricSecondFactorFailure, goVerify.MetricEmailOwnershipFailure),
	},
	{
		Name: "goverify_token_rejections_total", Help: "Tokens deleted on verify.", LabelKey: "reason",
		Series: []Series{
			{ID: goVerify.MetricTokenExpired, Label: "expired"},
			{ID: goVerify.MetricTokenAttemptsExceeded, Label: "attempts_exceeded"},
		},
	},
	{
		Name: "goverify_authorize_total", Help: "Credential reconciliations by outcome.", LabelKey: "result",
		Series: []Series{
			{ID: goVerify.MetricAuthorizeSuccess, Label: "success"},
			{ID: goVerify.MetricAuthorizeFailure, Label: "failure"},
		},
	},
	{Name: "goverify_delivery_failures_total", Help: "Notifier delivery failures.", Series: single(goVerify.MetricDeliveryFailure)},
	{Name: "goverify_rate_limited_total", Help: "Requests denied by a rate-limit budget.", Series: single(goVerify.MetricRateLimitHit)},
	{Name: "goverify_users_created_total", Help: "Accounts created on first login code verification.", Series: single(goVerify.MetricUserCreated)},
	{Name: "goverify_sessions_created_total", Help: "Minted sessions.", Series: single(goVerify.MetricSessionCreated)},
	{Name: "goverify_second_factor_toggles_total", Help: "Second-factor enable or disable operations.", Series: single(goVerify.MetricSecondFactorToggled)},
}

// AuthorizeDuration describes the Authorize latency histogram.
var AuthorizeDuration = struct {
	ID   goVerify.MetricID
	Name string
	Help string
}{
	ID:   goVerify.MetricAuthorizeLatency,
	Name: "goverify_authorize_duration_seconds",
	Help: "Authorize latency.",
}

// BucketBounds are the finite upper bounds, in seconds, of the latency
// buckets. The last engine bucket is the overflow bucket.
var BucketBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// FormatBound spells a bound the way Prometheus expects in an le label.
func FormatBound(b float64) string {
	return strconv.FormatFloat(b, 'g', -1, 64)
}

// Buckets returns raw as exactly len(BucketBounds)+1 per-bucket counts.
func Buckets(raw []uint64) []uint64 {
	out := make([]uint64, len(BucketBounds)+1)
	copy(out, raw)
	return out
}

// Cumulative returns running totals of per-bucket counts.
func Cumulative(counts []uint64) []uint64 {
	out := make([]uint64, len(counts))
	var running uint64
	for i, c := range counts {
		running += c
		out[i] = running
	}
	return out
}
