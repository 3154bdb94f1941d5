package pgstore

// HandlePostgresErrorForTest exposes the error mapping.
func HandlePostgresErrorForTest(operation string, err error) error {
	return handlePostgresError(operation, err)
}
