package service

import (
	"fmt"
	"strings"

	"github.com/draftmill/draftmill/internal/domain/model"
)

// Prompt input limits. Oversized inputs are truncated rather than rejected
// so a huge draft degrades review quality instead of failing the run.
const (
	researchPromptLimit  = 15000
	reviewDraftLimit     = 40000
	refineDraftLimit     = 50000
	critiqueHistoryLimit = 1000
)

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// categoryGuidance steers one research pass toward its source category.
func categoryGuidance(category model.SourceCategory) string {
	switch category {
	case model.SourceYouTube:
		return "Search for YouTube video transcripts, technical talks, and video summaries."
	case model.SourcePaper:
		return "Search for published research papers, arXiv preprints, and academic abstracts."
	default:
		return "Search for high-authority tech news, official documentation, and expert blogs."
	}
}

// carouselContext names the social format for the visual drafter.
func carouselContext(format model.OutputFormat) string {
	switch format {
	case model.FormatInstagramCards:
		return "Instagram Post (Visual, punchy, high energy)"
	default:
		return "LinkedIn Carousel (Professional, Insightful)"
	}
}

func researchPrompt(attempt int, category model.SourceCategory, topic, keywords, focus, queryModifiers string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research Task (Attempt %d): %s\n", attempt, categoryGuidance(category))
	fmt.Fprintf(&b, "Topic: %q\n", topic)
	fmt.Fprintf(&b, "Keywords to prioritize: %q\n", keywords)
	fmt.Fprintf(&b, "Constraint Focus: %q\n", focus)
	fmt.Fprintf(&b, "Query Modifiers: %q\n", queryModifiers)
	b.WriteString(`
Instructions:
1. Find 2-3 specific sources.
2. Extract key technical details, quotes, and data points.
3. Do not just list links, provide the content derived from them.
4. Be thorough and technical in your analysis.
5. Include specific facts, statistics, and expert opinions.
`)
	return b.String()
}

const blogDrafterHeader = `You are a professional technical blog writer. Based on the following comprehensive research notes, write a deep, engaging first draft of a blog post.

OUTPUT FORMAT - MARKDOWN (STRICTLY FOLLOW THIS FORMAT):

Your output MUST be valid Markdown with proper formatting:

1. START with a compelling H1 title:
   # Your Engaging Title Here

2. Use H2 (##) for main sections:
   ## Section Title

3. Use H3 (###) for subsections:
   ### Subsection Title

4. Use **bold** for emphasis on key terms
5. Use *italics* for technical terms or quotes
6. Use bullet points (-) or numbered lists (1.) for lists
7. Use > for blockquotes (expert opinions, key insights)
8. Use ` + "`inline code`" + ` for technical terms
9. Use fenced code blocks with a language tag for code samples
10. Use --- for horizontal rules between major sections

CONTENT REQUIREMENTS:

1. LENGTH: At least 1000 words. Expand on technical details thoroughly.
2. NO SIGNATURES: Do NOT include [Your Name], author signatures, or "Written by" lines.
3. SOURCE SYNTHESIS: Integrate research naturally without explicit citations like [1] or (Source: ...).
4. TONE: Professional yet engaging, suitable for a tech-savvy audience.
5. INTRODUCTION: Start with a compelling hook that draws readers in.
6. CONCLUSION: End with actionable takeaways, future implications, or a thought-provoking closing.

STRUCTURE TEMPLATE (follow this general flow):

# [Compelling Title]

[Opening hook - 2-3 sentences that grab attention]

[Context paragraph - why this matters now]

## [First Major Section]
[Deep analysis with specific examples, data, or technical details]

### [Subsection if needed]
[More specific details]

## [Second Major Section]
[Continue with substantive content]

## [Third Major Section]
[Technical depth, examples, implications]

## Key Takeaways
- **Point 1**: [Actionable insight]
- **Point 2**: [Actionable insight]
- **Point 3**: [Actionable insight]

## Conclusion
[Wrap up with forward-looking perspective or call to action]

RESEARCH NOTES TO SYNTHESIZE:

`

func blogDrafterPrompt(research string) string {
	var b strings.Builder
	b.WriteString(blogDrafterHeader)
	b.WriteString(truncate(research, researchPromptLimit))
	b.WriteString("\n\nBEGIN YOUR MARKDOWN BLOG POST (start with # Title):\n")
	return b.String()
}

func visualDrafterPrompt(format model.OutputFormat, research string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a social media expert. Create content for a %s.\n", carouselContext(format))
	fmt.Fprintf(&b, "Based on the research notes, create exactly %d slides/cards.\n", format.SlideCount())
	b.WriteString(`
REQUIREMENTS:
1. Concise, impactful text that works on visual slides.
2. DO NOT use Markdown formatting (like **bold**, *italics*, or # Headers) in the 'title' or 'content' fields. Use plain text only.
3. Do NOT use em-dashes; use standard hyphens (-) or colons (:) if necessary.
4. Each slide should have a clear, single message.
5. Content should flow logically from slide to slide.
6. For 'imagePrompt', describe a highly aesthetic, abstract, or tech-themed visual that represents the slide's concept.
   - Style: Cyberpunk, Neon, Glassmorphism, or Minimalist Tech.
   - IMPORTANT: The image generator is separate. Describe the VISUALS only, no text.
   - Be specific about colors, lighting, composition, and mood.

SLIDE FORMAT (return as JSON array):
[
    {
        "slideNumber": 1,
        "title": "Slide Title",
        "content": "Bullet points or short text for the slide",
        "imagePrompt": "Detailed visual description for image generation"
    }
]

RESEARCH NOTES:
`)
	b.WriteString(truncate(research, researchPromptLimit))
	return b.String()
}

const reviewerRules = `
ISSUE TYPES (use these exact values):
- MISSING_CONTENT: Section/paragraph needs to be added
- INCOMPLETE_CONTENT: Existing content is cut off or unfinished
- INACCURATE_DATA: Facts, numbers, or claims are wrong
- WEAK_ARGUMENT: Reasoning or analysis is shallow
- POOR_STRUCTURE: Organization or flow issues
- STYLE_ISSUE: Tone, voice, or writing quality
- FORMATTING_ERROR: Markdown, JSON, or layout problems

SCORING RULES:
- Iteration 1: Start with score 75-85 for a decent first draft
- Iteration 2+: If feedback was addressed, INCREASE score by 3-8 points
- Iteration 2+: If feedback was NOT addressed, KEEP or DECREASE score
- Score 91+ means content is ready for publication
- NO issues with priority 1 or 2 = approve (score 91+)

RESPOND WITH THIS EXACT JSON STRUCTURE:
{
    "score": <number 70-100>,
    "approved": <true if score >= 91 AND no priority 1-2 issues>,
    "summary": "One sentence overall assessment",
    "issues": [
        {
            "type": "<ISSUE_TYPE from list above>",
            "location": "<exact section name, paragraph number, or 'end of article'>",
            "description": "<what is wrong - be specific>",
            "action": "<exactly what the refiner should do: ADD, REPLACE, REWRITE, or REMOVE>",
            "priority": <1=Critical, 2=Important, 3=Minor>
        }
    ]
}

EXAMPLE ISSUES:
- {"type": "MISSING_CONTENT", "location": "end of article", "description": "No concluding paragraph", "action": "ADD a 2-3 paragraph conclusion synthesizing all examples", "priority": 1}
- {"type": "INCOMPLETE_CONTENT", "location": "Anthropic section, paragraph 3", "description": "Sentence cuts off mid-thought at 'the model can'", "action": "COMPLETE the sentence and paragraph", "priority": 1}
- {"type": "INACCURATE_DATA", "location": "Claude benchmarks bullet", "description": "Says 'industry-leading score' without a specific number", "action": "REPLACE with the actual measured score", "priority": 2}

IMPORTANT: Be SPECIFIC about locations. Don't say 'some sections' - say exactly WHERE.
`

func reviewerPrompt(iteration int, previousScores []int, previousCritique string, format model.OutputFormat, draft string) string {
	prevFeedback := "This is the FIRST review. Evaluate the content fresh."
	if len(previousScores) > 0 {
		critique := previousCritique
		if critique == "" {
			critique = "N/A"
		}
		prevFeedback = fmt.Sprintf(`PREVIOUS REVIEW HISTORY:
- Previous iteration score(s): %v
- Last issues that should have been addressed: %s

You MUST check if the above issues were fixed and adjust your score accordingly!`,
			previousScores, truncate(critique, critiqueHistoryLimit))
	}

	draftForReview := truncate(draft, reviewDraftLimit)
	var contentPrompt string
	if format == model.FormatBlogPost {
		contentPrompt = "Review the following blog post draft:\n" + draftForReview
	} else {
		contentPrompt = fmt.Sprintf(`Review the following JSON content for a Social Media Carousel:
%s

Check for punchiness, clarity, and image prompt relevance. Ensure there is NO markdown in the JSON strings.`, draftForReview)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional content editor. This is ITERATION %d of the review process.\n\n", iteration)
	b.WriteString(prevFeedback)
	b.WriteString("\n\nYour task is to FRESHLY evaluate the content below and identify SPECIFIC, ACTIONABLE issues.\n\n")
	b.WriteString(contentPrompt)
	b.WriteString("\n")
	b.WriteString(reviewerRules)
	return b.String()
}

const refinerRules = `
CRITICAL RULES:
- Every issue in the checklist MUST be fixed in the draft
- Priority 1 issues are MANDATORY - failure to fix them is unacceptable
- Priority 2 issues should be fixed unless impossible
- Do NOT return partial content - complete every section
- Do NOT stop mid-sentence
- The article must feel professionally finished

START YOUR RESPONSE WITH '## FIX PLAN:' FOLLOWED BY THE CHECKLIST:`

func refinerPrompt(critique, draft string) string {
	var b strings.Builder
	b.WriteString("You are a senior editor. Your job is to fix ALL issues listed below.\n\n")
	b.WriteString("ISSUES YOU MUST FIX (sorted by priority):\n\n")
	b.WriteString(critique)
	b.WriteString("\n\nCURRENT DRAFT:\n\n")
	b.WriteString(truncate(draft, refineDraftLimit))
	b.WriteString("\n\nSTEP 1: ACKNOWLEDGE EACH ISSUE (output this first)\n\n")
	b.WriteString(`Before writing the revised draft, output a checklist like this:

## FIX PLAN:
- [ ] Issue 1: [location] - [what you will do]
- [ ] Issue 2: [location] - [what you will do]
(list all issues)

STEP 2: OUTPUT THE COMPLETE REVISED DRAFT

After the checklist, output:

` + revisedDraftStartMarker + `

[Your complete revised content here]

` + revisedDraftEndMarker + "\n")
	b.WriteString(refinerRules)
	return b.String()
}

func guardrailPrompt(topic string) string {
	return fmt.Sprintf(`You are a content moderation system. Determine if a blog topic is SAFE or UNSAFE.

UNSAFE topics include:
- Political (elections, candidates, parties, controversial policies)
- Sexual or adult content
- Illegal activities (hacking, fraud, theft)
- Violence or harm
- Hate speech or discrimination
- Terrorism, weapons, drugs
- Gambling

SAFE topics include:
- Technology, programming, science
- Business, health, lifestyle, hobbies
- Educational and informational content

TOPIC: %q

Respond with ONLY valid JSON (no markdown):
{"safe": true, "reason": "brief reason"} or {"safe": false, "reason": "brief reason"}`, topic)
}
