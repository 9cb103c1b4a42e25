package bootstrap

import (
	"fmt"
	"log"

	"github.com/peoplecore/backend/internal/infrastructure/database"
	"github.com/peoplecore/backend/pkg/constants"
)

// InitializeSchema creates the workflow engine tables if they do not exist.
// The org directory tables (employee, department, department_role) belong to
// the hosting platform and are only read here, so they are not created.
func InitializeSchema(db *database.Connection) error {
	log.Println("🔧 Initializing workflow schema...")

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id VARCHAR(36) NOT NULL,
			process_type VARCHAR(100) NOT NULL,
			name VARCHAR(255) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			rule_condition TEXT,
			created_date DATETIME NOT NULL,
			last_modified_date DATETIME NOT NULL,
			KEY idx_rule_tenant_process (tenant_id, process_type, active)
		)`, constants.TableWorkflowRule),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			rule_id VARCHAR(36) NOT NULL,
			step_order INT NOT NULL,
			strategy VARCHAR(50) NOT NULL,
			strategy_param VARCHAR(100),
			timeout_minutes INT,
			can_skip BOOLEAN NOT NULL DEFAULT FALSE,
			KEY idx_step_rule (rule_id, step_order)
		)`, constants.TableWorkflowRuleStep),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id VARCHAR(36) NOT NULL,
			rule_id VARCHAR(36) NOT NULL,
			process_type VARCHAR(100) NOT NULL,
			entity_type VARCHAR(100) NOT NULL,
			entity_id VARCHAR(36) NOT NULL,
			subject_id VARCHAR(36) NOT NULL,
			steps_snapshot JSON NOT NULL,
			current_step INT NOT NULL,
			total_steps INT NOT NULL,
			status VARCHAR(20) NOT NULL,
			created_date DATETIME NOT NULL,
			last_modified_date DATETIME NOT NULL,
			KEY idx_instance_entity (tenant_id, entity_type, entity_id),
			KEY idx_instance_status (tenant_id, status)
		)`, constants.TableWorkflowInstance),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			instance_id VARCHAR(36) NOT NULL,
			tenant_id VARCHAR(36) NOT NULL,
			step_order INT NOT NULL,
			approver_id VARCHAR(36),
			status VARCHAR(20) NOT NULL,
			decided_by VARCHAR(36),
			comment TEXT,
			due_date DATETIME,
			created_date DATETIME NOT NULL,
			decided_date DATETIME,
			UNIQUE KEY uq_execution_instance_step (instance_id, step_order),
			KEY idx_execution_approver (tenant_id, approver_id, status),
			KEY idx_execution_due (status, due_date)
		)`, constants.TableStepExecution),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			event_type VARCHAR(100) NOT NULL,
			payload JSON NOT NULL,
			status VARCHAR(20) NOT NULL,
			retry_count INT NOT NULL DEFAULT 0,
			error_message TEXT,
			created_date DATETIME NOT NULL,
			processed_date DATETIME,
			last_modified_date DATETIME NOT NULL,
			KEY idx_outbox_status_created (status, created_date)
		)`, constants.TableEventOutbox),
	}

	for _, stmt := range statements {
		if _, err := db.DB().Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Println("✅ Workflow schema ready")
	return nil
}
