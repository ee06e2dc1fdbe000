package scanning

import "fmt"

// structurePrompt is the shared prompt used by all LLM providers to turn OCR
// text into a structured receipt record.
const structurePrompt = `You are analyzing the OCR text of a retail receipt. Extract ALL information and return it as a single JSON object.

Receipt text:
%s

Return ONLY valid JSON in this exact structure:
{
  "merchant": {
    "name": "Store name, clean and without store numbers",
    "address": "Street address if present",
    "city": "City if present",
    "state": "Two-letter state or province code (US: CA, TX, NY... Canada: ON, BC, QC...) if present",
    "zip_code": "ZIP or postal code if present",
    "phone": "Phone number if present"
  },
  "transaction": {
    "date": "YYYY-MM-DD if found (look for MM/DD/YYYY, DD/MM/YYYY, YYYY-MM-DD, Month DD YYYY)",
    "time": "HH:MM:SS if found (look for HH:MM:SS, HH:MM, HH:MM AM/PM)",
    "subtotal": 0.00,
    "tax_amount": 0.00,
    "total_amount": 0.00,
    "payment_method": "cash/debit/credit/visa/mastercard if found"
  },
  "items": [
    {
      "receipt_name": "Exact item text as written on the receipt, minus item codes and SKUs",
      "standard_name": "Short, simplified product name (e.g. 'BIG 42 Inch LED TV' -> 'LED TV')",
      "price": 0.00,
      "quantity": 1,
      "category": "One of the categories below"
    }
  ]
}

Categories: Electronics, Groceries, Clothing, Home & Garden, Personal Care, Dining, Transportation, Entertainment, Health & Beauty, Office Supplies, Other

Important:
- Keep receipt_name faithful to the receipt; put the cleaned-up version in standard_name
- Amounts must be numbers, not strings
- If a field cannot be found, use "" for strings and 0 for numbers
- Do not include discount or coupon lines as items
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// buildStructurePrompt interpolates the receipt text into the shared prompt.
func buildStructurePrompt(receiptText string) string {
	return fmt.Sprintf(structurePrompt, receiptText)
}
