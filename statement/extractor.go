package statement

import (
	"errors"
	"regexp"
	"strings"
)

// SourceInfo holds the extracted source system and account ID.
type SourceInfo struct {
	SourceSystem string
	AccountID    string
}

// InfoExtractor defines the interface for extracting source information from a filename.
type InfoExtractor interface {
	ExtractInfo(filename string) (*SourceInfo, error)
}

// ErrUnableToExtractInfo is returned when the extractor cannot parse the filename.
var ErrUnableToExtractInfo = errors.New("unable to extract source info from filename")

// FilenameExtractor reads the source system and account number out of
// statement filenames shaped like "<bank><nnnn>...", e.g.
// "westpac3581_jan.csv".
type FilenameExtractor struct{}

// NewFilenameExtractor creates a new FilenameExtractor.
func NewFilenameExtractor() *FilenameExtractor {
	return &FilenameExtractor{}
}

// ExtractInfo extracts the source system and account ID from the filename.
func (e *FilenameExtractor) ExtractInfo(filename string) (*SourceInfo, error) {
	lowerFileName := strings.ToLower(filename)

	// Regex to match a bank name prefix and then a 4-digit number
	re := regexp.MustCompile(`([a-z]+)(\d{4})`)
	matches := re.FindStringSubmatch(lowerFileName)

	if len(matches) > 2 {
		return &SourceInfo{
			SourceSystem: matches[1],
			AccountID:    matches[2],
		}, nil
	}

	return nil, ErrUnableToExtractInfo
}
