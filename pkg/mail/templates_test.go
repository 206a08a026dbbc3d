package mail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRenderVerificationEmail(t *testing.T) {
	msg, err := RenderVerificationEmail(VerificationEmail{
		Email:     "ada@example.com",
		Code:      "042917",
		Link:      "https://app.example.com/verify-email?token=abc&x=1",
		ExpiresIn: 15 * time.Minute,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"ada@example.com"}, msg.To)
	require.Equal(t, "Verify your Visera account", msg.Subject)
	require.Contains(t, msg.Body, "042917")
	require.Contains(t, msg.Body, "15 minutes")
	require.Contains(t, msg.HTMLBody, "042917")
	require.Contains(t, msg.HTMLBody, "token=abc&amp;x=1")
}

func TestRenderVerificationEmailWithoutLink(t *testing.T) {
	msg, err := RenderVerificationEmail(VerificationEmail{
		AppName:   "Acme",
		Email:     "<script>@example.com",
		Code:      "111111",
		ExpiresIn: 10 * time.Minute,
	})
	require.NoError(t, err)

	require.NotContains(t, msg.HTMLBody, "Verify email</a>")
	require.NotContains(t, msg.HTMLBody, "<script>")
	require.Contains(t, msg.Subject, "Acme")
}
