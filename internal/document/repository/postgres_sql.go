package repository

const documentColumns = `d.id, d.user_id, d.title, d.description, d.is_public, d.annotation_color, d.estimated_completion_time, d.is_deleted, d.deleted_at, d.created_at, d.updated_at`

const (
	sqlInsertDocument = `INSERT INTO documents (id, user_id, title, description, is_public, annotation_color, estimated_completion_time, is_deleted, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $8)`

	sqlLockDocument = `SELECT ` + documentColumns + ` FROM documents d WHERE d.id = $1 FOR UPDATE`

	sqlSelectDocument = `SELECT ` + documentColumns + ` FROM documents d WHERE d.id = $1`

	sqlSelectVisibleDocument = `SELECT ` + documentColumns + ` FROM documents d WHERE d.id = $1 AND d.is_deleted = false AND (d.is_public = true OR ($2 <> '' AND d.user_id = $2))`

	sqlSelectSteps = `SELECT s.id, s.document_id, s.step_number, s.step_description, s.type, s.created_at, s.updated_at, sc.id, sc.google_image_id, sc.url, sc.viewport_x, sc.viewport_y, sc.viewport_width, sc.viewport_height, sc.device_pixel_ratio, sc.created_at, sc.updated_at FROM steps s LEFT JOIN screenshots sc ON sc.step_id = s.id WHERE s.document_id = $1 ORDER BY s.step_number ASC, s.id ASC`

	sqlLockSteps = sqlSelectSteps + ` FOR UPDATE OF s`

	sqlStepDocumentID = `SELECT document_id FROM steps WHERE id = $1`

	sqlUpdateTitle           = `UPDATE documents SET title = $2, updated_at = $3 WHERE id = $1`
	sqlUpdateDescription     = `UPDATE documents SET description = $2, updated_at = $3 WHERE id = $1`
	sqlUpdateAnnotationColor = `UPDATE documents SET annotation_color = $2, updated_at = $3 WHERE id = $1`
	sqlSetEstimatedTime      = `UPDATE documents SET estimated_completion_time = $2, updated_at = $3 WHERE id = $1`
	sqlSetDeleted            = `UPDATE documents SET is_deleted = $2, deleted_at = $3, updated_at = $4 WHERE id = $1`
	sqlSetPublic             = `UPDATE documents SET is_public = $2, updated_at = $3 WHERE id = $1`
	sqlDeleteDocument        = `DELETE FROM documents WHERE id = $1`

	sqlInsertStep     = `INSERT INTO steps (id, document_id, step_number, step_description, type, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $6)`
	sqlUpdateStep     = `UPDATE steps SET step_number = $3, step_description = $4, type = $5, updated_at = $6 WHERE id = $1 AND document_id = $2`
	sqlDeleteSteps    = `DELETE FROM steps WHERE document_id = $1 AND id = ANY($2)`
	sqlDeleteAllSteps = `DELETE FROM steps WHERE document_id = $1`

	sqlInsertScreenshot     = `INSERT INTO screenshots (id, step_id, google_image_id, url, viewport_x, viewport_y, viewport_width, viewport_height, device_pixel_ratio, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
	sqlOverwriteScreenshot  = `UPDATE screenshots SET google_image_id = $2, url = $3, viewport_x = $4, viewport_y = $5, viewport_width = $6, viewport_height = $7, device_pixel_ratio = $8, updated_at = $9 WHERE step_id = $1`
	sqlDeleteScreenshots    = `DELETE FROM screenshots WHERE step_id = ANY($1)`
	sqlDeleteAllScreenshots = `DELETE FROM screenshots WHERE step_id IN (SELECT id FROM steps WHERE document_id = $1)`

	sqlInsertSaved           = `INSERT INTO saved_documents (user_id, document_id, saved_at) VALUES ($1, $2, $3)`
	sqlDeleteSaved           = `DELETE FROM saved_documents WHERE user_id = $1 AND document_id = $2`
	sqlDeleteSavedByDocument = `DELETE FROM saved_documents WHERE document_id = $1`
	sqlSelectSaved           = `SELECT sd.user_id, sd.document_id, sd.saved_at FROM saved_documents sd JOIN documents d ON d.id = sd.document_id WHERE sd.user_id = $1 AND sd.document_id = $2 AND d.is_deleted = false`

	sqlListOwned = `SELECT ` + documentColumns + `, (SELECT count(*) FROM steps s WHERE s.document_id = d.id) FROM documents d WHERE d.user_id = $1 AND d.is_deleted = false ORDER BY d.updated_at DESC`

	sqlListDeleted = `SELECT ` + documentColumns + `, (SELECT count(*) FROM steps s WHERE s.document_id = d.id) FROM documents d WHERE d.user_id = $1 AND d.is_deleted = true ORDER BY d.deleted_at DESC`

	sqlListSaved = `SELECT ` + documentColumns + `, (SELECT count(*) FROM steps s WHERE s.document_id = d.id), sd.saved_at FROM saved_documents sd JOIN documents d ON d.id = sd.document_id WHERE sd.user_id = $1 AND d.is_deleted = false ORDER BY sd.saved_at DESC`
)
