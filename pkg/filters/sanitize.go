package filters

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	ugcPolicyOnce    sync.Once
	ugcPolicy        *bluemonday.Policy
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// SanitizeHTML keeps user-generated-content markup (links, emphasis, lists)
// and drops scripts, event handlers and other unsafe constructs. Use it when
// generated HTML fragments are meant to be rendered as markup.
func SanitizeHTML(s string, _ ...any) (string, error) {
	return ugcSanitizer().Sanitize(s), nil
}

// StripHTMLTags removes every tag, leaving escaped text content.
func StripHTMLTags(s string, _ ...any) (string, error) {
	return strictSanitizer().Sanitize(s), nil
}

func ugcSanitizer() *bluemonday.Policy {
	ugcPolicyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.RequireNoFollowOnLinks(true)
		ugcPolicy = policy
	})
	return ugcPolicy
}

func strictSanitizer() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}
