package brain

import "math"

// Estimate is a pre-execution token/cost projection derived from prompt
// sizes: roughly 4 characters per token, output assumed at half the input.
type Estimate struct {
	InputTokens  int
	OutputTokens int
	Cents        float64
}

// EstimateCost projects tokens and cents for a prompt before invoking the
// brain. Rates are cents per million tokens.
func EstimateCost(prompt, system string, inputRatePerM, outputRatePerM float64) Estimate {
	inputTokens := int(math.Ceil(float64(len(prompt)+len(system)) / 4))
	outputTokens := int(math.Ceil(float64(inputTokens) * 0.5))
	return Estimate{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cents:        Cents(inputTokens, inputRatePerM) + Cents(outputTokens, outputRatePerM),
	}
}

// Cents converts a token count to cents at the given per-million rate,
// rounded to 6 decimal places.
func Cents(tokens int, ratePerMillion float64) float64 {
	cents := float64(tokens) / 1e6 * ratePerMillion
	return math.Round(cents*1e6) / 1e6
}
