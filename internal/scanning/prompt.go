package scanning

// extractionPrompt is shared by every vision backend
const extractionPrompt = `You are reading a photographed receipt. Read all text in the image and return the receipt as structured data.

Extract:
1. "merchant": the store or business name, usually the largest text at the top.
2. "date": the transaction date in YYYY-MM-DD format, or null if not printed.
3. "currency": the ISO 4217 currency code if it can be determined, otherwise null.
4. "items": every purchased line as {"name", "quantity", "price"}. Copy quantities and prices as printed, without currency symbols.
5. "subtotal" and "tax" as printed, or null.
6. "total_amount": the final amount paid (TOTAL, Amount Due, Grand Total), digits and decimal point only.

Return ONLY valid JSON in this exact shape:
{
  "merchant": "Store Name",
  "date": "YYYY-MM-DD",
  "currency": "USD",
  "items": [{"name": "Item", "quantity": "1", "price": "0.00"}],
  "subtotal": "0.00",
  "tax": "0.00",
  "total_amount": "0.00"
}

Do not include any text before or after the JSON. Do not use markdown code blocks.`

const extractionSystemPrompt = "You are an expert at reading receipts. You carefully read all text in images and extract accurate information."
