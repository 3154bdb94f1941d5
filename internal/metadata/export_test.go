package metadata

// ParseIdentifyOutputForTest exposes parseIdentifyOutput for tests in the external package.
func ParseIdentifyOutputForTest(lines []string) (Metadata, error) {
	return parseIdentifyOutput(lines)
}
