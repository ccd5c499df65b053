package openaicompat

// Option configures a Provider.
type Option func(*Provider)

// WithName sets the reported provider name (default "openai").
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithTemperature sets a default sampling temperature. Per-request
// temperatures override it.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = &t }
}

// WithHeader adds a header to every request. OpenRouter uses this for
// HTTP-Referer / X-Title attribution.
func WithHeader(key, value string) Option {
	return func(p *Provider) {
		if p.headers == nil {
			p.headers = make(map[string]string)
		}
		p.headers[key] = value
	}
}
