package test

import (
	"fmt"
	"strings"
	"time"
)

// LogBuilder builds replication log text in the format produced by
// "mysqlbinlog --base64-output=DECODE-ROWS --verbose".
type LogBuilder struct {
	w      strings.Builder
	pos    uint64
	at     time.Time
	tables map[string]uint64
	xid    int
}

// NewLogBuilder returns a builder with the preamble that mysqlbinlog writes at
// the start of its output.
func NewLogBuilder() *LogBuilder {
	b := &LogBuilder{
		pos:    4,
		tables: map[string]uint64{},
	}

	b.w.WriteString("# The proper term is pseudo_replica_mode, but we use this compatibility alias\n")
	b.w.WriteString("/*!50530 SET @@SESSION.PSEUDO_SLAVE_MODE=1*/;\n")
	b.w.WriteString("/*!50003 SET @OLD_COMPLETION_TYPE=@@COMPLETION_TYPE,COMPLETION_TYPE=0*/;\n")
	b.w.WriteString("DELIMITER /*!*/;\n")
	b.event(126, "Start: binlog v 4, server v 8.0.35 created 251108 17:00:00 at startup")
	b.w.WriteString("ROLLBACK/*!*/;\n")

	return b
}

// Begin starts a transaction at the given time.
func (b *LogBuilder) Begin(at time.Time, gtid string) *LogBuilder {
	b.at = at.UTC()

	if gtid != "" {
		b.event(79, "GTID\tlast_committed=0\tsequence_number=1\trbr_only=yes")
		fmt.Fprintf(&b.w, "SET @@SESSION.GTID_NEXT= '%s'/*!*/;\n", gtid)
	}

	b.event(75, "Query\tthread_id=8\texec_time=0\terror_code=0")
	fmt.Fprintf(&b.w, "SET TIMESTAMP=%d/*!*/;\n", b.at.Unix())
	b.w.WriteString("BEGIN\n/*!*/;\n")

	return b
}

// Insert adds a Write_rows event inserting the given rows. Each row is a list
// of value literals, in column order.
func (b *LogBuilder) Insert(table string, rows ...[]string) *LogBuilder {
	num := b.tableMap(table)
	b.event(60, fmt.Sprintf("Write_rows: table id %d flags: STMT_END_F", num))

	for _, row := range rows {
		fmt.Fprintf(&b.w, "### INSERT INTO %s\n", quoteTable(table))
		b.image("SET", row)
	}

	return b
}

// Update adds an Update_rows event. pairs alternates before and after images.
func (b *LogBuilder) Update(table string, pairs ...[]string) *LogBuilder {
	num := b.tableMap(table)
	b.event(80, fmt.Sprintf("Update_rows: table id %d flags: STMT_END_F", num))

	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(&b.w, "### UPDATE %s\n", quoteTable(table))
		b.image("WHERE", pairs[i])
		b.image("SET", pairs[i+1])
	}

	return b
}

// Delete adds a Delete_rows event deleting the given rows.
func (b *LogBuilder) Delete(table string, rows ...[]string) *LogBuilder {
	num := b.tableMap(table)
	b.event(60, fmt.Sprintf("Delete_rows: table id %d flags: STMT_END_F", num))

	for _, row := range rows {
		fmt.Fprintf(&b.w, "### DELETE FROM %s\n", quoteTable(table))
		b.image("WHERE", row)
	}

	return b
}

// Raw appends arbitrary text to the log.
func (b *LogBuilder) Raw(s string) *LogBuilder {
	b.w.WriteString(s)
	if !strings.HasSuffix(s, "\n") {
		b.w.WriteByte('\n')
	}
	return b
}

// Commit ends the current transaction.
func (b *LogBuilder) Commit() *LogBuilder {
	b.xid++
	b.event(31, fmt.Sprintf("Xid = %d", b.xid))
	b.w.WriteString("COMMIT/*!*/;\n")
	return b
}

// Rollback ends the current transaction without committing it.
func (b *LogBuilder) Rollback() *LogBuilder {
	b.event(77, "Query\tthread_id=8\texec_time=0\terror_code=0")
	b.w.WriteString("ROLLBACK\n/*!*/;\n")
	return b
}

// String returns the log text, including the trailer that mysqlbinlog writes
// at the end of its output.
func (b *LogBuilder) String() string {
	return b.w.String() +
		"SET @@SESSION.GTID_NEXT= 'AUTOMATIC' /* added by mysqlbinlog */ /*!*/;\n" +
		"DELIMITER ;\n" +
		"# End of log file\n"
}

// Bytes returns the log text as a byte slice.
func (b *LogBuilder) Bytes() []byte {
	return []byte(b.String())
}

func (b *LogBuilder) event(size uint64, desc string) {
	end := b.pos + size
	fmt.Fprintf(
		&b.w,
		"# at %d\n#%s server id 1  end_log_pos %d CRC32 0x%08x \t%s\n",
		b.pos,
		b.at.Format("060102 15:04:05"),
		end,
		uint32(end*2654435761),
		desc,
	)
	b.pos = end
}

func (b *LogBuilder) tableMap(table string) uint64 {
	num, ok := b.tables[table]
	if !ok {
		num = uint64(90 + len(b.tables))
		b.tables[table] = num
	}

	b.event(
		59,
		fmt.Sprintf("Table_map: %s mapped to number %d", quoteTable(table), num),
	)

	return num
}

func (b *LogBuilder) image(section string, values []string) {
	fmt.Fprintf(&b.w, "### %s\n", section)
	for i, v := range values {
		fmt.Fprintf(&b.w, "###   @%d=%s\n", i+1, v)
	}
}

func quoteTable(table string) string {
	db, name, ok := strings.Cut(table, ".")
	if !ok {
		return "`" + table + "`"
	}
	return "`" + db + "`.`" + name + "`"
}
