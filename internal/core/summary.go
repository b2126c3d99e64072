package core

// CategoryAmount represents an amount aggregated by category.
type CategoryAmount struct {
	Category Category
	Amount   Money
	Count    int
}

// Summary holds the three totals shown on the summary cards.
type Summary struct {
	Total       Money
	UnitTotal   Money
	SalaryTotal Money
}
