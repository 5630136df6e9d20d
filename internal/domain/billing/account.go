package billing

// Account is one customer account in the billing source
type Account struct {
	ID       string
	Name     string
	Currency string
	Email    string
	Country  string
	City     string
	Zip      string
	State    string
}
