package scanning

import "fmt"

// remotePrompt accompanies the receipt image sent to the remote model
const remotePrompt = `You extract structured receipt data.
- emit only JSON matching the given schema
- required: total (number), items (array of {name, price, qty})
- optional: merchant (string), date (YYYY-MM-DD) with no time
- omit unknown fields; do not invent items
`

// localPrompt embeds recognized receipt text for the local model
func localPrompt(ocrText string) string {
	return fmt.Sprintf("Extract JSON with keys merchant (string, optional), "+
		"date (YYYY-MM-DD, optional), total (number, required) "+
		"and items (array of {name, price, qty}, required) from the receipt below.\n"+
		"Return only valid JSON.\n\n"+
		"### OCR TEXT\n%s\n### END", ocrText)
}
