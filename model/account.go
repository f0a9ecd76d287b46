package model

type Account struct {
	AccountID         string `json:"accountId"`
	AccountHolderName string `json:"accountHolderName"`
	AccountNumber     string `json:"accountNumber,omitempty"`
	SortCode          string `json:"sortCode,omitempty"`
	Currency          string `json:"currency,omitempty"`
	AccountType       string `json:"accountType,omitempty"`
	DisplayName       string `json:"displayName,omitempty"`
}

// VerificationResult is the outcome of scoring an account holder name
// against the name the caller expected.
type VerificationResult struct {
	IsValid          bool     `json:"isValid"`
	Confidence       int      `json:"confidence"`
	Similarity       int      `json:"similarity"`
	RiskScore        int      `json:"riskScore"`
	Warnings         []string `json:"warnings"`
	Suggestions      []string `json:"suggestions"`
	MatchedAccountID string   `json:"matchedAccountId,omitempty"`
	AccountName      string   `json:"accountName,omitempty"`
}
