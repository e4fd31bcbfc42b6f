// Package binlog decodes the text form of a MySQL binary log, as produced by
// "mysqlbinlog --base64-output=DECODE-ROWS --verbose", into transactions of row
// changes.
package binlog
