package generator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/petavatar/petavatar/internal/models"
)

// OpenAIGenerator implements Generator against the OpenAI API:
// vision analysis of the pet photo, career mapping, identity package,
// then an image generation call for the avatar.
type OpenAIGenerator struct {
	client *openai.Client
}

func NewOpenAIGenerator(apiKey string) *OpenAIGenerator {
	return &OpenAIGenerator{client: openai.NewClient(apiKey)}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, image []byte, contentType, jobID string) (*Result, error) {
	analysis, err := g.analyzePet(ctx, image, contentType)
	if err != nil {
		return nil, fmt.Errorf("pet analysis failed: %w", err)
	}
	slog.Info("pet analyzed", "job_id", jobID, "species", analysis.Species, "vibe", analysis.Vibe)

	career, err := g.mapCareer(ctx, analysis)
	if err != nil {
		return nil, fmt.Errorf("career mapping failed: %w", err)
	}
	slog.Info("career mapped", "job_id", jobID, "job_title", career.JobTitle, "seniority", career.Seniority)

	identity, err := g.generateIdentity(ctx, analysis, career)
	if err != nil {
		return nil, fmt.Errorf("identity generation failed: %w", err)
	}

	avatar, err := g.generateAvatar(ctx, career)
	if err != nil {
		return nil, fmt.Errorf("avatar generation failed: %w", err)
	}
	slog.Info("avatar generated", "job_id", jobID, "human_name", identity.HumanName, "size", len(avatar))

	return &Result{
		Analysis:  *analysis,
		Career:    *career,
		Identity:  *identity,
		AvatarPNG: avatar,
	}, nil
}

const analysisPrompt = `Analyze this pet image in detail and provide a comprehensive personality assessment.

Please provide your analysis in the following JSON format:

{
    "species": "<dog|cat|hamster|fish|reptile|other>",
    "breed": "<breed name or 'mixed' or 'unknown'>",
    "expression": "<description of facial expression>",
    "posture": "<description of body posture and positioning>",
    "personality_dimensions": {
        "confidence": <0-100>,
        "energy_level": <0-100>,
        "sociability": <0-100>,
        "assertiveness": <0-100>,
        "playfulness": <0-100>,
        "independence": <0-100>,
        "curiosity": <0-100>,
        "affection": <0-100>,
        "patience": <0-100>,
        "adaptability": <0-100>,
        "intelligence": <0-100>,
        "loyalty": <0-100>,
        "protectiveness": <0-100>,
        "gentleness": <0-100>,
        "boldness": <0-100>,
        "calmness": <0-100>,
        "enthusiasm": <0-100>,
        "focus": <0-100>,
        "determination": <0-100>,
        "sensitivity": <0-100>,
        "humor": <0-100>,
        "dignity": <0-100>,
        "mischievousness": <0-100>,
        "responsibility": <0-100>,
        "leadership": <0-100>,
        "cooperation": <0-100>,
        "competitiveness": <0-100>,
        "creativity": <0-100>,
        "organization": <0-100>,
        "spontaneity": <0-100>,
        "caution": <0-100>,
        "optimism": <0-100>,
        "resilience": <0-100>,
        "empathy": <0-100>,
        "assertive_communication": <0-100>,
        "listening_skills": <0-100>,
        "problem_solving": <0-100>,
        "strategic_thinking": <0-100>,
        "attention_to_detail": <0-100>,
        "big_picture_thinking": <0-100>,
        "risk_taking": <0-100>,
        "stability_seeking": <0-100>,
        "innovation": <0-100>,
        "tradition": <0-100>,
        "ambition": <0-100>,
        "contentment": <0-100>,
        "would_steal_lunch": <0-100>,
        "sends_passive_aggressive_emails": <0-100>
    },
    "dominant_traits": ["<trait1>", "<trait2>", "<trait3>"],
    "vibe": "<overall personality description in 2-4 words>"
}

Be creative but realistic in your assessment. Consider the pet's expression, posture, grooming, and overall demeanor.`

func (g *OpenAIGenerator) analyzePet(ctx context.Context, image []byte, contentType string) (*models.PetAnalysis, error) {
	imageURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(image))

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT4o,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: analysisPrompt,
					},
				},
			},
		},
		MaxTokens: 2000,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	var analysis models.PetAnalysis
	if err := unmarshalModelJSON(resp.Choices[0].Message.Content, &analysis); err != nil {
		return nil, err
	}
	if analysis.Species == "" {
		return nil, fmt.Errorf("analysis response missing species")
	}
	return &analysis, nil
}

func (g *OpenAIGenerator) mapCareer(ctx context.Context, analysis *models.PetAnalysis) (*models.CareerProfile, error) {
	dim := func(name string) int {
		if v, ok := analysis.PersonalityDimensions[name]; ok {
			return v
		}
		return 50
	}

	prompt := fmt.Sprintf(`Based on this personality profile, determine the most appropriate human career and professional presentation.

Personality Profile:
- Species: %s
- Overall Vibe: %s
- Dominant Traits: %s
- Key Dimensions:
  - Confidence: %d
  - Leadership: %d
  - Assertiveness: %d
  - Strategic Thinking: %d
  - Creativity: %d
  - Organization: %d
  - Sociability: %d
  - Empathy: %d
  - Ambition: %d
  - Would Steal Lunch: %d
  - Sends Passive-Aggressive Emails: %d

Provide your career mapping in the following JSON format:

{
    "job_title": "<specific job title>",
    "seniority": "<entry-level|mid-level|senior|executive>",
    "industry": "<industry sector>",
    "work_style": "<brief description of work approach>",
    "attire_style": "<suit|business_casual|creative|scrubs>",
    "background_setting": "<corner_office|open_office|linkedin_blue|creative_space>",
    "confidence_score": <0-100>
}

Guidelines:
- Match job title to dominant personality traits
- High confidence/leadership/ambition means senior or executive roles
- High creativity/spontaneity means creative industries
- High organization/detail means analytical/administrative roles
- High empathy/sociability means people-facing roles
- Consider the "would steal lunch" and "passive-aggressive emails" scores for realism
- Attire should match industry and seniority
- Background should match seniority (executives get corner offices)
- Confidence score reflects how well the personality fits the role`,
		analysis.Species, analysis.Vibe, strings.Join(analysis.DominantTraits, ", "),
		dim("confidence"), dim("leadership"), dim("assertiveness"), dim("strategic_thinking"),
		dim("creativity"), dim("organization"), dim("sociability"), dim("empathy"),
		dim("ambition"), dim("would_steal_lunch"), dim("sends_passive_aggressive_emails"))

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT4o,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: 1000,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	var career models.CareerProfile
	if err := unmarshalModelJSON(resp.Choices[0].Message.Content, &career); err != nil {
		return nil, err
	}
	if career.JobTitle == "" {
		return nil, fmt.Errorf("career response missing job_title")
	}
	return &career, nil
}

func (g *OpenAIGenerator) generateIdentity(ctx context.Context, analysis *models.PetAnalysis, career *models.CareerProfile) (*models.IdentityPackage, error) {
	humanName := nameForSpecies(analysis.Species, analysis.Breed)

	prompt := fmt.Sprintf(`Create a complete professional identity package for %s, a %s %s in the %s industry.

Personality Context:
- Overall Vibe: %s
- Dominant Traits: %s
- Work Style: %s

Provide your response in the following JSON format:

{
    "bio": "<three paragraphs in LinkedIn style>",
    "skills": ["<skill1>", "<skill2>", "...", "<skill5-10>"],
    "career_trajectory": {
        "past": "<description of past roles and journey>",
        "present": "<description of current role and responsibilities>",
        "future": "<description of aspirations and goals>"
    }
}

Guidelines for the bio:
- Paragraph 1: Current role, key responsibilities, and impact
- Paragraph 2: Professional background, experience, and achievements
- Paragraph 3: Approach to work, values, and what drives them

Guidelines for skills:
- Generate 5-10 professional skills that align with the job title and personality
- Mix technical/domain skills with soft skills
- Make them believable and relevant to the role

Guidelines for career trajectory:
- Past: 2-3 sentences about how they got to where they are
- Present: 2-3 sentences about current focus and contributions
- Future: 2-3 sentences about career aspirations and goals

Make it professional, believable, and aligned with the personality traits.`,
		humanName, career.Seniority, career.JobTitle, career.Industry,
		analysis.Vibe, strings.Join(analysis.DominantTraits, ", "), career.WorkStyle)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT4o,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: 2000,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	var identity models.IdentityPackage
	if err := unmarshalModelJSON(resp.Choices[0].Message.Content, &identity); err != nil {
		return nil, err
	}
	if identity.Bio == "" {
		return nil, fmt.Errorf("identity response missing bio")
	}

	identity.HumanName = humanName
	identity.JobTitle = career.JobTitle
	identity.Seniority = career.Seniority
	identity.SimilarityScore = similarityScore(analysis, career)

	return &identity, nil
}

var attireDescriptions = map[string]string{
	"suit":            "wearing a professional business suit",
	"business_casual": "wearing business casual attire",
	"creative":        "wearing stylish creative professional clothing",
	"scrubs":          "wearing medical scrubs",
}

var backgroundDescriptions = map[string]string{
	"corner_office":  "in a corner office with windows and city view",
	"open_office":    "in a modern open office environment",
	"linkedin_blue":  "with a professional LinkedIn-style blue gradient background",
	"creative_space": "in a creative workspace with modern design",
}

func (g *OpenAIGenerator) generateAvatar(ctx context.Context, career *models.CareerProfile) ([]byte, error) {
	attireDesc, ok := attireDescriptions[career.AttireStyle]
	if !ok {
		attireDesc = "wearing professional attire"
	}
	backgroundDesc, ok := backgroundDescriptions[career.BackgroundSetting]
	if !ok {
		backgroundDesc = "with a professional background"
	}

	prompt := fmt.Sprintf(
		"Professional headshot photograph of a %s %s, %s, %s, "+
			"photorealistic, high quality, professional photography, "+
			"well-lit, sharp focus, confident expression, "+
			"corporate portrait style, 8k resolution",
		career.Seniority, career.JobTitle, attireDesc, backgroundDesc)

	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Model:          openai.CreateImageModelDallE3,
		Prompt:         prompt,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no image in response")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode avatar image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("avatar image is empty")
	}
	return data, nil
}

// Species-appropriate name patterns.
var speciesNamePatterns = map[string]map[string][]string{
	"dog": {
		"golden_retriever": {"Greg", "Doug", "Buddy", "Max", "Charlie", "Cooper", "Tucker"},
		"labrador":         {"Jake", "Sam", "Bailey", "Duke", "Rocky", "Bear"},
		"german_shepherd":  {"Rex", "Bruno", "Zeus", "Thor", "Gunner", "Axel"},
		"poodle":           {"Pierre", "Marcel", "Francois", "Henri", "Claude"},
		"default":          {"Max", "Buddy", "Charlie", "Jack", "Rocky", "Duke", "Bear", "Tucker"},
	},
	"cat": {
		"default": {"Margaret", "Sebastian", "Penelope", "Theodore", "Beatrice",
			"Winston", "Vivienne", "Reginald", "Cordelia", "Archibald"},
	},
	"hamster": {
		"default": {"Chip", "Nibbles", "Squeaky", "Peanut", "Whiskers"},
	},
	"fish": {
		"default": {"Finn", "Coral", "Marina", "Neptune", "Splash"},
	},
	"reptile": {
		"default": {"Rex", "Spike", "Scales", "Draco", "Viper"},
	},
	"other": {
		"default": {"Alex", "Sam", "Jordan", "Casey", "Riley"},
	},
}

func nameForSpecies(species, breed string) string {
	speciesNames, ok := speciesNamePatterns[strings.ToLower(species)]
	if !ok {
		speciesNames = speciesNamePatterns["other"]
	}

	breedKey := strings.ToLower(strings.ReplaceAll(breed, " ", "_"))
	names, ok := speciesNames[breedKey]
	if !ok {
		names = speciesNames["default"]
	}

	return names[rand.Intn(len(names))]
}

// similarityScore is a weighted pet-to-human match quality:
// personality trait alignment 40%, career fit confidence 30%,
// name appropriateness 15%, overall coherence 15%. Returns 0-100.
func similarityScore(analysis *models.PetAnalysis, career *models.CareerProfile) float64 {
	careerConfidence := career.ConfidenceScore
	if careerConfidence == 0 {
		careerConfidence = 75
	}

	relevantTraits := []string{"confidence", "leadership", "assertiveness", "sociability",
		"creativity", "organization", "empathy"}
	sum := 0
	for _, trait := range relevantTraits {
		if v, ok := analysis.PersonalityDimensions[trait]; ok {
			sum += v
		} else {
			sum += 50
		}
	}
	avgTrait := float64(sum) / float64(len(relevantTraits))

	const nameAppropriateness = 0.8

	score := careerConfidence*0.3 + avgTrait*0.4 + nameAppropriateness*100*0.15 + 85*0.15

	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

// unmarshalModelJSON parses model output that may be wrapped in markdown
// code fences.
func unmarshalModelJSON(content string, v any) error {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "```json"); idx >= 0 {
		content = content[idx+len("```json"):]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	}
	content = strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(content), v); err != nil {
		return fmt.Errorf("failed to parse model response: %w", err)
	}
	return nil
}
