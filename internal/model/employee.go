package model

// Employee は来訪者の訪問先となる従業員を表す。
// Email で一意。JobTitle と AzureADID は任意（空文字はNULLとして保存する）。
type Employee struct {
	ID          string
	DisplayName string
	Email       string
	JobTitle    string
	AzureADID   string
}
