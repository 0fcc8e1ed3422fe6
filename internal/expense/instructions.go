package expense

import "strings"

// categoryInstruction is built once from Categories
var categoryInstruction = `You categorize receipts. The user message is a receipt extracted as JSON.
Choose exactly one category from this list: ` + categoryList() + `.
If the receipt does not clearly fit any category, answer Other.
Respond with the category name only, with no punctuation or explanation.`

const priceInstruction = `You read totals from receipts. The user message is a receipt extracted as JSON.
Respond with the final total amount paid and nothing else, for example 12.50.`

const merchantInstruction = `You read merchant names from receipts. The user message is a receipt extracted as JSON.
Respond with the name of the business or merchant and nothing else.
Do not include currency symbols, amounts, addresses or explanation.`

var batchedInstruction = `You read receipts. The user message is a receipt extracted as JSON.
Respond with a single JSON object with exactly these string fields:
  "category": one of ` + categoryList() + `, or Other if none fits,
  "price": the final total amount paid as digits, for example "12.50",
  "merchant": the business name without currency symbols.
Do not include any text before or after the JSON.`

func categoryList() string {
	names := make([]string, len(Categories))
	for i, c := range Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
