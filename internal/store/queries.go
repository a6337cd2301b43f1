package store

// CompositionRowsSQL joins every composition with its composer and dimension
// names. It uses no placeholders so every backend can run it unchanged.
const CompositionRowsSQL = `
SELECT
	compositions.full_name,
	COALESCE(compositions.work_title, '') AS work_title,
	COALESCE(composers.full_name, '') AS composer_name,
	COALESCE(keys.name, '') AS key_name,
	COALESCE(instrumentations.name, '') AS instrumentation_name,
	COALESCE(styles.name, '') AS style_name,
	COALESCE(languages.name, '') AS language_name
FROM compositions
	LEFT JOIN composers ON compositions.composer_id = composers.id
	LEFT JOIN keys ON compositions.key_id = keys.id
	LEFT JOIN instrumentations ON compositions.instrumentation_id = instrumentations.id
	LEFT JOIN styles ON compositions.piece_style_id = styles.id
	LEFT JOIN languages ON compositions.language_id = languages.id
ORDER BY compositions.id`

// ComposerNamesSQL lists composer names alphabetically.
const ComposerNamesSQL = `SELECT full_name FROM composers ORDER BY full_name`
