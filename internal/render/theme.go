package render

import (
	"fmt"
	htmltemplate "html/template"
)

// Theme holds the colors and fonts of the HTML digest.
type Theme struct {
	Name            string
	HeaderColor     string
	BackgroundColor string
	TextColor       string
	LinkColor       string
	BorderColor     string
	MaxWidth        string
	FontFamily      string
}

// DefaultTheme is a blue, sans-serif layout.
func DefaultTheme() Theme {
	return Theme{
		Name:            "default",
		HeaderColor:     "#2563eb", // Blue-600
		BackgroundColor: "#f8fafc", // Slate-50
		TextColor:       "#1e293b", // Slate-800
		LinkColor:       "#3b82f6", // Blue-500
		BorderColor:     "#e2e8f0", // Slate-200
		MaxWidth:        "600px",
		FontFamily:      "system-ui, -apple-system, 'Segoe UI', Roboto, sans-serif",
	}
}

// MinimalTheme is a plain gray layout.
func MinimalTheme() Theme {
	return Theme{
		Name:            "minimal",
		HeaderColor:     "#374151", // Gray-700
		BackgroundColor: "#ffffff",
		TextColor:       "#111827", // Gray-900
		LinkColor:       "#6366f1", // Indigo-500
		BorderColor:     "#e5e7eb", // Gray-200
		MaxWidth:        "560px",
		FontFamily:      "Inter, system-ui, sans-serif",
	}
}

// ThemeByName returns the named theme, falling back to the default.
func ThemeByName(name string) Theme {
	if name == "minimal" {
		return MinimalTheme()
	}
	return DefaultTheme()
}

// CSS renders the theme's stylesheet. Theme values come from code or
// operator config, never from feed content.
func (t Theme) CSS() htmltemplate.CSS {
	return htmltemplate.CSS(fmt.Sprintf(`
  body { margin: 0; padding: 0; background-color: %s; font-family: %s; color: %s; line-height: 1.6; }
  .container { max-width: %s; margin: 0 auto; background-color: #ffffff; border: 1px solid %s; border-radius: 8px; overflow: hidden; }
  .header { background-color: %s; color: #ffffff; padding: 24px; text-align: center; }
  .header h1 { margin: 0; font-size: 24px; font-weight: 600; }
  .header .date { margin: 8px 0 0 0; font-size: 14px; opacity: 0.9; }
  .content { padding: 24px; }
  a { color: %s; text-decoration: none; }
  .article-card { background-color: #f8fafc; border: 1px solid %s; border-radius: 6px; padding: 20px; margin: 16px 0; }
  .article-title { font-size: 18px; font-weight: 600; margin: 0 0 12px 0; }
  .article-summary { font-size: 15px; margin: 0 0 16px 0; white-space: pre-line; }
  .article-meta { font-size: 13px; color: #64748b; margin: 12px 0 0 0; }
  .topic { display: inline-block; font-size: 12px; padding: 2px 8px; border: 1px solid %s; border-radius: 10px; }
  .footer { background-color: #f1f5f9; padding: 20px 24px; text-align: center; font-size: 14px; color: #64748b; border-top: 1px solid %s; }
  @media only screen and (max-width: 600px) {
    .container { margin: 0 !important; border-radius: 0 !important; }
    .content, .header { padding: 16px !important; }
  }
`,
		t.BackgroundColor, t.FontFamily, t.TextColor,
		t.MaxWidth, t.BorderColor,
		t.HeaderColor,
		t.LinkColor,
		t.BorderColor,
		t.LinkColor,
		t.BorderColor))
}
