package email

import (
	"fmt"
	"time"
)

// brand palette used across transactional mail
const (
	colorCream     = "#FFFCF9"
	colorCharcoal  = "#2D2A27"
	colorPink      = "#D4737A"
	colorDivider   = "#EDE8E3"
	colorTextMuted = "#9B9590"
)

const logoURL = "https://skqnatchmwomhyabeiim.supabase.co/storage/v1/object/public/public_assets/pinky.png"

func wrap(inner string) string {
	return fmt.Sprintf(`
<div style="background-color: %s; padding: 40px 20px; font-family: 'Montserrat', Helvetica, Arial, sans-serif; color: %s; line-height: 1.6;">
  <div style="max-width: 600px; margin: 0 auto; background: #ffffff; border: 1px solid %s; border-radius: 8px; overflow: hidden;">
    <div style="padding: 40px; text-align: center; border-bottom: 1px solid %s;">
      <img src="%s" alt="Pinky Pill" style="width: 80px; height: auto; margin-bottom: 20px;" />
      <h1 style="font-family: Georgia, serif; font-size: 28px; margin: 0; letter-spacing: 2px; text-transform: uppercase;">Pinky Pill</h1>
      <p style="font-size: 10px; color: %s; margin-top: 5px; letter-spacing: 1px; font-weight: bold;">YOUR AI BIG SISTER FOR DATING CLARITY</p>
    </div>
    <div style="padding: 40px;">%s</div>
    <div style="padding: 30px; background-color: #fafafa; border-top: 1px solid %s; text-align: center;">
      <p style="font-size: 11px; color: %s; margin: 0;">&copy; %d Pinky Pill. All rights reserved.</p>
      <p style="font-size: 10px; color: %s; margin-top: 10px;">Stay sharp. Trust Pinky.</p>
    </div>
  </div>
</div>`,
		colorCream, colorCharcoal, colorDivider, colorDivider, logoURL, colorPink,
		inner, colorDivider, colorTextMuted, time.Now().Year(), colorTextMuted)
}

func welcomeHTML() string {
	inner := fmt.Sprintf(`
<h2 style="font-family: Georgia, serif; font-size: 24px; color: %s; margin-top: 0;">Welcome to the Circle</h2>
<p style="font-size: 15px; color: #4a4a4a; margin-bottom: 25px;">
  Your account is ready. Pinky is on call whenever you need a second opinion on
  a message, a date, or a walking red flag.
</p>
<p style="font-size: 13px; color: %s;">
  Open the app, say hi, and let's get you some clarity.
</p>`,
		colorCharcoal, colorTextMuted)
	return wrap(inner)
}

func passwordResetHTML(confirmLink string) string {
	inner := fmt.Sprintf(`
<h2 style="font-family: Georgia, serif; font-size: 24px; color: %s; margin-top: 0;">Access Request</h2>
<p style="font-size: 15px; color: #4a4a4a; margin-bottom: 25px;">
  We received a request to reset your password. If you didn't initiate this, you can safely ignore this email.
</p>
<div style="text-align: center; margin: 35px 0;">
  <a href="%s" style="display: inline-block; background-color: %s; color: %s; padding: 18px 36px; text-decoration: none; border-radius: 2px; font-weight: 600; font-size: 13px; text-transform: uppercase; letter-spacing: 2px;">Reset Password</a>
</div>
<p style="font-size: 13px; color: %s; text-align: center;">
  If the button above doesn't work, copy and paste this link:<br/>
  <a href="%s" style="color: %s; word-break: break-all; text-decoration: none;">%s</a>
</p>`,
		colorCharcoal, confirmLink, colorCharcoal, colorCream, colorTextMuted,
		confirmLink, colorPink, confirmLink)
	return wrap(inner)
}
