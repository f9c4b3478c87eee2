package payment

// responseMessages mirrors the gateway's vnp_ResponseCode table.
var responseMessages = map[string]string{
	"00": "transaction successful",
	"07": "amount deducted, transaction flagged as suspicious",
	"09": "card or account is not registered for internet banking",
	"10": "card or account verification failed more than 3 times",
	"11": "payment window expired",
	"12": "card or account is locked",
	"13": "wrong one-time password",
	"24": "customer cancelled the transaction",
	"51": "insufficient balance",
	"65": "daily transaction limit exceeded",
	"75": "bank is under maintenance",
	"79": "wrong payment password entered too many times",
	"99": "unspecified gateway error",
}

// DescribeResponse returns a human-readable explanation of a response code.
func DescribeResponse(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "unknown response code " + code
}
