package fanout

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

func newGolden(t *testing.T) *goldie.Goldie {
	t.Helper()

	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestMessages_Golden(t *testing.T) {
	t.Parallel()

	remote := &RemoteFile{ID: "1", Name: "photo.jpg", WebURL: "https://drive.example/photo.jpg"}

	cases := map[string]string{
		"auth_prompt_link":    authPromptText("photo.jpg", "https://login.example/consent?state=abc"),
		"auth_prompt_no_link": authPromptText("photo.jpg", ""),
		"saved":               savedText(remote),
		"saved_no_url":        savedText(&RemoteFile{Name: "photo.jpg"}),
		"failed_rate_limited": failedText("photo.jpg", ReasonRateLimited),
		"failed_timeout":      failedText("photo.jpg", ReasonTimeout),
		"failed_abandoned":    failedText("photo.jpg", ReasonAbandoned),
		"failed_generic":      failedText("photo.jpg", ReasonUploadFailed),
		"group_ack_all":       groupAckText("photo.jpg", Summary{Total: 3, Succeeded: 3}),
		"group_ack_pending":   groupAckText("photo.jpg", Summary{Total: 3, Succeeded: 2, NeedConsent: 1}),
		"group_ack_pending_2": groupAckText("photo.jpg", Summary{Total: 4, Succeeded: 1, NeedConsent: 2, OtherFailure: 1}),
		"group_ack_nobody":    groupAckText("photo.jpg", Summary{}),
	}

	g := newGolden(t)

	for name, text := range cases {
		g.Assert(t, name, []byte(text))
	}
}
