package recovery

type entry struct {
	category  Category
	severity  Severity
	retryable bool
	user      string
	guidance  string
	action    string
}

var table = map[Code]entry{
	CodeNetworkOffline: {
		category:  CategoryNetwork,
		severity:  SeverityMedium,
		retryable: true,
		user:      "We could not reach the network.",
		guidance:  "Check your internet connection and try again.",
		action:    "Try Again",
	},
	CodeNetworkTimeout: {
		category:  CategoryTimeout,
		severity:  SeverityMedium,
		retryable: true,
		user:      "The request took too long to complete.",
		guidance:  "The network is slow right now. Wait a moment and try again.",
		action:    "Try Again",
	},
	CodeRateLimited: {
		category:  CategoryRateLimit,
		severity:  SeverityLow,
		retryable: true,
		user:      "Too many requests in a short time.",
		guidance:  "Wait a minute before sending another request.",
		action:    "Wait",
	},
	CodeUserRejected: {
		category:  CategoryWallet,
		severity:  SeverityLow,
		retryable: false,
		user:      "The request was rejected in your wallet.",
		guidance:  "Start the transaction again if you still want to proceed.",
		action:    "Start Over",
	},
	CodeInsufficientFunds: {
		category:  CategoryWallet,
		severity:  SeverityMedium,
		retryable: false,
		user:      "Your wallet does not hold enough funds for this transaction.",
		guidance:  "Lower the amount or add funds, keeping some of the native token for gas.",
		action:    "Add Funds",
	},
	CodeWrongNetwork: {
		category:  CategoryWallet,
		severity:  SeverityMedium,
		retryable: false,
		user:      "Your wallet is connected to a different network.",
		guidance:  "Switch your wallet to the network shown in the transaction details.",
		action:    "Switch Network",
	},
	CodeWalletNotConnected: {
		category:  CategoryWallet,
		severity:  SeverityMedium,
		retryable: false,
		user:      "No wallet is connected.",
		guidance:  "Connect a wallet to check balances or prepare swaps.",
		action:    "Connect Wallet",
	},
	CodeTxReverted: {
		category:  CategoryTransaction,
		severity:  SeverityHigh,
		retryable: true,
		user:      "The transaction was reverted by the contract.",
		guidance:  "Prices may have moved. Review the amount and try again.",
		action:    "Try Again",
	},
	CodeGasEstimation: {
		category:  CategoryTransaction,
		severity:  SeverityMedium,
		retryable: true,
		user:      "We could not estimate the gas for this transaction.",
		guidance:  "The transaction would probably fail. Check the amount and your balance, then try again.",
		action:    "Try Again",
	},
	CodeTxFailed: {
		category:  CategoryTransaction,
		severity:  SeverityHigh,
		retryable: true,
		user:      "The transaction failed.",
		guidance:  "Review the transaction details and try again.",
		action:    "Try Again",
	},
	CodeRPCError: {
		category:  CategoryNetwork,
		severity:  SeverityMedium,
		retryable: true,
		user:      "The blockchain node returned an error.",
		guidance:  "The node may be busy. Try again in a few seconds.",
		action:    "Try Again",
	},
	CodeValidation: {
		category:  CategoryValidation,
		severity:  SeverityLow,
		retryable: false,
		user:      "Some of the request details are not valid.",
		guidance:  "Check the token symbols, chain and amount, then send the request again.",
		action:    "Edit Request",
	},
	CodeInputRejected: {
		category:  CategoryValidation,
		severity:  SeverityHigh,
		retryable: false,
		user:      "This request was blocked for your safety.",
		guidance:  "Describe the swap or balance check you want in plain words.",
		action:    "Rephrase",
	},
	CodeApprovalRequired: {
		category:  CategoryTransaction,
		severity:  SeverityHigh,
		retryable: false,
		user:      "This transaction has not been approved.",
		guidance:  "Review the transaction and approve it before it can be sent.",
		action:    "Review",
	},
	CodeNotFound: {
		category:  CategoryValidation,
		severity:  SeverityLow,
		retryable: false,
		user:      "We could not find what you asked for.",
		guidance:  "It may have expired. Start a new request.",
		action:    "Start Over",
	},
	CodeRequestCancelled: {
		category:  CategoryUnknown,
		severity:  SeverityLow,
		retryable: false,
		user:      "The request was cancelled.",
		guidance:  "Send the request again when you are ready.",
		action:    "Try Again",
	},
	CodeUnknown: {
		category:  CategoryUnknown,
		severity:  SeverityMedium,
		retryable: true,
		user:      "Something went wrong.",
		guidance:  "Try again. If the problem continues, refresh and start over.",
		action:    "Try Again",
	},
}

// Codes lists every code with a message table entry.
func Codes() []Code {
	return []Code{
		CodeNetworkOffline, CodeNetworkTimeout, CodeRateLimited, CodeUserRejected,
		CodeInsufficientFunds, CodeWrongNetwork, CodeWalletNotConnected, CodeTxReverted,
		CodeGasEstimation, CodeTxFailed, CodeRPCError, CodeValidation, CodeInputRejected,
		CodeApprovalRequired, CodeNotFound, CodeRequestCancelled, CodeUnknown,
	}
}
