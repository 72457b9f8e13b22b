// Package protect detects paths in sensitive areas that need a human look
// before an agent touches them.
package protect

// DefaultPatterns lists glob patterns for protected areas.
var DefaultPatterns = []string{
	"**/auth/**",
	"**/security/**",
	"**/migrations/**",
	"**/secrets/**",
	"**/credentials/**",
	"**/certs/**",
	"**/.ssh/**",
	"**/.aws/**",
	"**/terraform/**",
	"**/k8s/**",
	"**/.github/workflows/**",
}

// DefaultKeywords are path substrings that mark a file as sensitive.
var DefaultKeywords = []string{
	"password",
	"secret",
	"credential",
	"private_key",
	"id_rsa",
	"oauth",
}

// DefaultFileTypes are protected file extensions.
var DefaultFileTypes = []string{
	".pem",
	".key",
	".env",
	".p12",
	".pfx",
	".jks",
	".keystore",
	".tfstate",
}
