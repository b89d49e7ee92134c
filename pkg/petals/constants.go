package petals

const (
	operationCredit = "credit"
	operationDebit  = "debit"
	operationAdjust = "adjust"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
