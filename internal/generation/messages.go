package generation

import (
	"errors"
	"strings"

	"golang.org/x/text/language"

	"studio/internal/domain"
)

const (
	localeEN = "en"
	localeID = "id"
)

var (
	supportedLocales = []string{localeEN, localeID}
	localeMatcher    = language.NewMatcher([]language.Tag{language.English, language.Indonesian})
)

type failureRule struct {
	code    string
	needles []string
	text    map[string]string
}

// Matched in order; the first rule whose needle appears in the lowercased
// server message wins.
var failureRules = []failureRule{
	{
		code:    "content_rejected",
		needles: []string{"safety", "nsfw", "content policy", "inappropriate", "moderation", "flagged"},
		text: map[string]string{
			localeEN: "We couldn't process these images. Please try different images.",
			localeID: "Gambar ini tidak dapat diproses. Silakan coba gambar lain.",
		},
	},
	{
		code:    "person_not_found",
		needles: []string{"no person", "person not detected", "face not detected", "no human", "pose not detected"},
		text: map[string]string{
			localeEN: "We couldn't find a person in the model photo. Please use a clear, front-facing photo.",
			localeID: "Kami tidak menemukan orang pada foto model. Gunakan foto yang jelas dan menghadap depan.",
		},
	},
	{
		code:    "garment_not_found",
		needles: []string{"garment not detected", "clothing not detected", "outfit not detected", "no garment"},
		text: map[string]string{
			localeEN: "We couldn't recognize the clothing item. Please use a photo that shows the garment clearly.",
			localeID: "Kami tidak mengenali pakaian tersebut. Gunakan foto yang menampilkan pakaian dengan jelas.",
		},
	},
	{
		code:    "invalid_image",
		needles: []string{"invalid image", "unsupported format", "cannot decode", "corrupt", "resolution too"},
		text: map[string]string{
			localeEN: "One of the images could not be read. Please upload a JPEG or PNG image.",
			localeID: "Salah satu gambar tidak dapat dibaca. Unggah gambar JPEG atau PNG.",
		},
	},
	{
		code:    "service_busy",
		needles: []string{"overloaded", "capacity", "rate limit", "try again later"},
		text: map[string]string{
			localeEN: "The generator is busy right now. Please try again in a moment.",
			localeID: "Generator sedang sibuk. Silakan coba lagi sebentar lagi.",
		},
	},
}

var genericText = map[string]map[string]string{
	"generation_failed": {
		localeEN: "Generation failed. Please try again.",
		localeID: "Pembuatan gagal. Silakan coba lagi.",
	},
	"timed_out": {
		localeEN: "This is taking longer than expected. Check your history later for the result.",
		localeID: "Proses ini memakan waktu lebih lama dari perkiraan. Periksa riwayat Anda nanti untuk hasilnya.",
	},
	"quota_exceeded": {
		localeEN: "You've used all generations for this month. Upgrade your plan to continue.",
		localeID: "Kuota pembuatan bulan ini sudah habis. Tingkatkan paket Anda untuk melanjutkan.",
	},
	"in_flight": {
		localeEN: "A generation is already being submitted for this item.",
		localeID: "Pembuatan untuk item ini sedang dikirim.",
	},
}

// MatchLocale maps a free-form locale onto a supported one.
func MatchLocale(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return localeEN
	}
	_, idx, _ := localeMatcher.Match(tag)
	return supportedLocales[idx]
}

// NormalizeFailure maps a server failure message onto a stable code and an
// English message. Unknown messages are returned verbatim.
func NormalizeFailure(raw string) (code, message string) {
	code, message, _ = normalizeFailure(raw, localeEN)
	return code, message
}

func normalizeFailure(raw, locale string) (string, string, bool) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, rule := range failureRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.code, rule.text[locale], true
			}
		}
	}
	if lower == "" {
		return "generation_failed", genericText["generation_failed"][locale], true
	}
	return "", strings.TrimSpace(raw), false
}

// NewJobFailedError builds the terminal error for a failed job.
func NewJobFailedError(job domain.GenerationJob) *domain.JobFailedError {
	var raw, serverCode string
	if job.Error != nil {
		raw = job.Error.Message
		serverCode = job.Error.Code
	}
	code, message := NormalizeFailure(raw)
	if serverCode != "" {
		code = serverCode
	}
	return &domain.JobFailedError{JobID: job.ID, Code: code, Message: message, Raw: raw}
}

// UserMessage renders a user-visible message for a terminal error.
func UserMessage(err error, locale string) string {
	locale = MatchLocale(locale)
	var (
		failed  *domain.JobFailedError
		timeout *domain.TimeoutError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &failed):
		if _, text, known := normalizeFailure(failed.Raw, locale); known {
			return text
		}
		return failed.Message
	case errors.As(err, &timeout):
		return genericText["timed_out"][locale]
	case errors.Is(err, domain.ErrQuotaExceeded):
		return genericText["quota_exceeded"][locale]
	case errors.Is(err, domain.ErrGenerationInFlight):
		return genericText["in_flight"][locale]
	default:
		return genericText["generation_failed"][locale]
	}
}
