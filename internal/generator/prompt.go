package generator

import "strings"

const fence = "```"

// instructions is the fixed block that follows the page context.
const instructions = `Instructions:
1. Analyze the User Request, the full existing HTML, and existing CSS.
2. The User Request might be a specific CSS instruction (e.g., 'make background blue') OR a broad theme/aesthetic (e.g., 'dark mode', 'star wars theme', '90s retro', 'cyberpunk', 'minimalist').
3. **If the request is a broad theme:** INTERPRET the theme based on your knowledge. Generate appropriate CSS styles (colors, fonts, spacing, borders, etc.) that reflect the *vibe* or *aesthetic* of the theme, using the provided HTML/CSS for context. Do NOT ask for clarification on themes; make a creative attempt to capture the essence of the theme in CSS.
4. **If the request is a specific instruction:** Generate CSS to implement that specific change, considering the existing styles and HTML structure.
5. Generate ONLY valid CSS code. Do NOT include any explanations, apologies, markdown formatting (like code fences), or introductory text.
6. Use reasonably specific CSS selectors derived from the provided HTML to apply the changes effectively, trying not to drastically break the existing page layout unless requested.
7. If the request is completely impossible or nonsensical even as a theme, return only a CSS comment like ` + SentinelUnable + `.

Generated CSS:
`

// BuildPrompt renders the generation prompt for a user request against the
// extracted page markup and styles. The output depends only on its inputs.
func BuildPrompt(userPrompt, html, css string) string {
	var b strings.Builder
	b.Grow(len(userPrompt) + len(html) + len(css) + len(instructions) + 256)

	b.WriteString("Context: You are an expert CSS generator AI. You will help a user modify the styles of a webpage based on their request.\n\n")
	b.WriteString(`User Request: "`)
	b.WriteString(userPrompt)
	b.WriteString("\"\n\n")

	b.WriteString("Existing Page HTML (Full Body):\n")
	b.WriteString(fence + "html\n")
	b.WriteString(html)
	b.WriteString("\n" + fence + "\n\n")

	b.WriteString("Existing Page CSS (Internal styles and external links):\n")
	b.WriteString(fence + "css\n")
	b.WriteString(css)
	b.WriteString("\n" + fence + "\n\n")

	b.WriteString(instructions)
	return b.String()
}
