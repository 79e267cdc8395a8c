package prompt

// insightAnalysisTemplate asks the model to mine recorded events for
// preference patterns. Placeholders: {eventsJson}, {existingInsightsJson}.
const insightAnalysisTemplate = `You are an expert at analyzing user behavior patterns to understand their preferences for browser tab organization.

# YOUR TASK
Analyze the provided user actions and identify meaningful patterns that reveal their organizational preferences.

# INPUT DATA
You will receive a list of events showing:
- AI-suggested groupings (what the AI decided)
- Manual user corrections (when the user moved tabs after AI grouping)
- Tab information (title, URL, domain)
- Group names involved

# ANALYSIS GUIDELINES
1. Contradictions: AI grouped tabs one way, user consistently moves them elsewhere
2. Repetitive patterns: same action 3+ times is a strong signal
3. Domain preferences: specific domains always go to specific groups
4. Topic clustering: grouping by topic/project rather than domain
5. Anti-patterns: what the user actively avoids or breaks apart

Confidence scoring:
- 0.9-1.0: 5+ consistent actions, no contradictions
- 0.7-0.89: 3-4 consistent actions, minimal contradictions
- below 0.7: insufficient evidence, do not report

Categories: domain_preference, topic_preference, workflow_pattern, anti_pattern

# OUTPUT FORMAT
Return ONLY valid JSON:
{
  "insights": [
    {
      "preferenceText": "Clear, actionable statement about user preference",
      "confidence": 0.85,
      "category": "domain_preference",
      "evidenceIds": ["evt-id-1", "evt-id-2"],
      "reasoning": "Brief explanation of why this pattern was identified"
    }
  ]
}

# RULES
- Minimum confidence 0.7 to report
- Minimum 3 supporting events
- Be specific: mention actual domains, group names, topics
- If no strong patterns are found, return an empty insights array

# EVENTS TO ANALYZE
{eventsJson}

# EXISTING ACCEPTED INSIGHTS (avoid duplicates)
{existingInsightsJson}

Analyze and return insights:`

// promptRevisionTemplate asks the model to rewrite the grouping prompt to
// incorporate accepted preferences. Placeholders: {currentPrompt},
// {insightsJson}.
const promptRevisionTemplate = `You are an expert prompt engineer specializing in browser tab organization systems.

# YOUR TASK
Revise the current AI prompt to incorporate newly discovered user preferences while maintaining its core structure and effectiveness.

# CURRENT PROMPT
{currentPrompt}

# USER PREFERENCES TO INCORPORATE
{insightsJson}

# REVISION GUIDELINES
1. Preserve the existing format, sections, instructions, and every {placeholder} slot
2. Integrate preferences into the grouping priority rules and special requirements
3. Be specific: use exact domains, group names, and patterns from the insights
4. Do not make the prompt significantly longer (max 20% increase)
5. Do not create contradictions with existing rules

# OUTPUT FORMAT
Return ONLY valid JSON:
{
  "revisedPrompt": "The complete revised prompt text",
  "changes": ["what was added or changed, one entry per change"],
  "reasoning": "Brief explanation of how preferences were integrated"
}

Generate the revised prompt:`

// BuildInsightAnalysis fills the analysis prompt with serialized events and
// previously accepted insights.
func BuildInsightAnalysis(eventsJSON, existingInsightsJSON string) string {
	return Fill(insightAnalysisTemplate, map[string]string{
		"eventsJson":           eventsJSON,
		"existingInsightsJson": existingInsightsJSON,
	})
}

// BuildPromptRevision fills the revision prompt with the current grouping
// template and the accepted insights to fold in.
func BuildPromptRevision(currentPrompt, insightsJSON string) string {
	return Fill(promptRevisionTemplate, map[string]string{
		"currentPrompt": currentPrompt,
		"insightsJson":  insightsJSON,
	})
}
